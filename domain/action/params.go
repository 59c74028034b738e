package action

import (
	json "github.com/goccy/go-json"
)

// DecodeParams 将渲染后的参数解码到结构体
func DecodeParams(params map[string]interface{}, out interface{}) error {
	data, err := json.Marshal(params)
	if err != nil {
		return WrapFatal("invalid_params", err, "encode params")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return WrapFatal("invalid_params", err, "decode params")
	}
	return nil
}
