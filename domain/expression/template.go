package expression

import (
	"regexp"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

var templatePattern = regexp.MustCompile(`\{\{\s*(.*?)\s*\}\}`)

// Render 使用默认求值器渲染模板
func Render(tmpl string, vars map[string]interface{}) (string, error) {
	return defaultEvaluator.Render(tmpl, vars)
}

// RenderValue 使用默认求值器递归渲染参数
func RenderValue(value interface{}, vars map[string]interface{}) (interface{}, error) {
	return defaultEvaluator.RenderValue(value, vars)
}

// HasTemplate 字符串中是否包含 {{ }} 模板
func HasTemplate(s string) bool {
	return templatePattern.MatchString(s)
}

// Render 替换字符串中的 {{ path | filter }} 占位符
// 无法解析的变量渲染为空字符串并记录警告，带 required 过滤器时返回 ErrMissingRequired
func (e *Evaluator) Render(tmpl string, vars map[string]interface{}) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	var firstErr error
	out := templatePattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		if firstErr != nil {
			return ""
		}
		inner := templatePattern.FindStringSubmatch(match)[1]
		value, err := e.resolve(inner, vars)
		if err != nil {
			firstErr = err
			return ""
		}
		return Stringify(value)
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// RenderValue 递归渲染 map、切片中的字符串
// 整个字符串只有一个占位符时保留原始类型
func (e *Evaluator) RenderValue(value interface{}, vars map[string]interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		trimmed := strings.TrimSpace(v)
		if matches := templatePattern.FindAllStringSubmatchIndex(trimmed, -1); len(matches) == 1 &&
			matches[0][0] == 0 && matches[0][1] == len(trimmed) {
			resolved, err := e.resolve(trimmed[matches[0][2]:matches[0][3]], vars)
			if err != nil {
				return nil, err
			}
			if resolved == nil {
				return "", nil
			}
			return resolved, nil
		}
		return e.Render(v, vars)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, item := range v {
			rendered, err := e.RenderValue(item, vars)
			if err != nil {
				return nil, err
			}
			out[key] = rendered
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			rendered, err := e.RenderValue(item, vars)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	case []string:
		out := make([]interface{}, len(v))
		for i, item := range v {
			rendered, err := e.RenderValue(item, vars)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	}
	return value, nil
}

// RenderParams 渲染动作参数
func (e *Evaluator) RenderParams(params map[string]interface{}, vars map[string]interface{}) (map[string]interface{}, error) {
	if params == nil {
		return map[string]interface{}{}, nil
	}
	rendered, err := e.RenderValue(params, vars)
	if err != nil {
		return nil, err
	}
	return rendered.(map[string]interface{}), nil
}

// resolve 解析占位符内部：路径加可选过滤器链
func (e *Evaluator) resolve(inner string, vars map[string]interface{}) (interface{}, error) {
	parts := splitFilters(inner)
	path := strings.TrimSpace(parts[0])

	var value interface{}
	found := false
	if path == "now" || path == "now()" {
		value, found = e.clock.Now(), true
	} else {
		value, found = Lookup(vars, path)
	}

	handled := false
	for _, raw := range parts[1:] {
		name, arg := parseFilter(raw)
		switch name {
		case "required":
			handled = true
			if !found || IsEmpty(value) {
				return nil, WrapExpressionError(ErrMissingRequired, "template variable %q", path)
			}
		case "default":
			handled = true
			if !found || IsEmpty(value) {
				value, found = arg, true
			}
		case "upper":
			if found {
				value = strings.ToUpper(Stringify(value))
			}
		case "lower":
			if found {
				value = strings.ToLower(Stringify(value))
			}
		case "trim":
			if found {
				value = strings.TrimSpace(Stringify(value))
			}
		case "json":
			if found {
				data, err := json.Marshal(value)
				if err != nil {
					return nil, WrapExpressionError(err, "json filter on %q", path)
				}
				value = string(data)
			}
		case "date":
			if t, ok := toTime(value); ok {
				layout := arg
				if layout == "" {
					layout = "2006-01-02"
				}
				value = t.Format(layout)
			}
		case "add_days":
			if t, ok := toTime(value); ok {
				days, ok := toNumber(arg)
				if !ok {
					return nil, NewExpressionErrorf("add_days filter needs a number, got %q", arg)
				}
				value = t.Add(time.Duration(days * float64(24*time.Hour)))
			}
		default:
			return nil, NewExpressionErrorf("unknown template filter %q", name)
		}
	}

	if !found && !handled {
		e.logger.Warn("template variable unresolved", "path", path)
	}
	return value, nil
}

// splitFilters 按引号外的 | 切分
func splitFilters(inner string) []string {
	parts := make([]string, 0, 2)
	var sb strings.Builder
	var quote rune
	for _, r := range inner {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
			sb.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
			sb.WriteRune(r)
		case r == '|':
			parts = append(parts, sb.String())
			sb.Reset()
		default:
			sb.WriteRune(r)
		}
	}
	return append(parts, sb.String())
}

func parseFilter(raw string) (string, string) {
	raw = strings.TrimSpace(raw)
	name, arg, _ := strings.Cut(raw, ":")
	arg = strings.TrimSpace(arg)
	if len(arg) >= 2 && (arg[0] == '\'' || arg[0] == '"') && arg[len(arg)-1] == arg[0] {
		arg = arg[1 : len(arg)-1]
	}
	return strings.ToLower(strings.TrimSpace(name)), arg
}
