package trigger

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"

	"github.com/XXueTu/graph_automation/domain/expression"
	"github.com/XXueTu/graph_automation/domain/workflow"
)

// 认证请求头默认值
const (
	DefaultAPIKeyHeader    = "X-API-Key"
	DefaultSignatureHeader = "X-Signature"
)

// WebhookRequest 入站 Webhook 请求
type WebhookRequest struct {
	Path    string
	Method  string
	Headers http.Header
	Query   map[string][]string
	Body    []byte
}

// MatchWebhook 按路径与方法匹配，认证失败不创建运行
// 条件不满足时返回 nil, nil
func (m *Matcher) MatchWebhook(ctx context.Context, req WebhookRequest) (*Match, error) {
	reg, ok := m.registry.Webhook(req.Path)
	if !ok || reg.Config.Webhook == nil {
		return nil, ErrNotFound
	}
	cfg := reg.Config.Webhook
	if !methodAllowed(cfg.Methods, req.Method) {
		return nil, ErrMethodNotAllowed
	}

	claims, err := authenticate(cfg.Auth, req)
	if err != nil {
		m.logger.Warn("webhook rejected", "trigger_id", reg.ID(), "path", req.Path, "error", err)
		return nil, err
	}

	body := decodeBody(req.Body)
	source := map[string]interface{}{
		"body":    body,
		"headers": flattenHeaders(req.Headers),
		"query":   flattenValues(req.Query),
	}

	initial := make(map[string]interface{})
	if len(cfg.FieldMapping) == 0 {
		initial["payload"] = body
	}
	for name, path := range cfg.FieldMapping {
		if value, ok := expression.Lookup(source, path); ok {
			initial[name] = value
		} else {
			m.logger.Warn("webhook field mapping unresolved", "trigger_id", reg.ID(), "var", name, "path", path)
		}
	}
	meta := map[string]interface{}{
		"path":   NormalizePath(req.Path),
		"method": strings.ToUpper(req.Method),
	}
	if claims != nil {
		meta["claims"] = claims
	}
	initial["trigger"] = m.meta(reg, meta)

	ok, err = m.passes(reg, nil, initial)
	if err != nil || !ok {
		return nil, err
	}
	match := newMatch(reg, initial)
	return &match, nil
}

func methodAllowed(methods []string, method string) bool {
	if len(methods) == 0 {
		return strings.EqualFold(method, http.MethodPost)
	}
	for _, allowed := range methods {
		if strings.EqualFold(allowed, method) {
			return true
		}
	}
	return false
}

// authenticate 缺少凭证返回 ErrUnauthorized，凭证错误返回 ErrForbidden
func authenticate(auth workflow.WebhookAuth, req WebhookRequest) (map[string]interface{}, error) {
	switch auth.Method {
	case "", workflow.AuthNone:
		return nil, nil
	case workflow.AuthAPIKey:
		header := auth.Header
		if header == "" {
			header = DefaultAPIKeyHeader
		}
		key := req.Headers.Get(header)
		if key == "" {
			if values := req.Query["api_key"]; len(values) > 0 {
				key = values[0]
			}
		}
		if key == "" {
			return nil, ErrUnauthorized
		}
		for _, expected := range auth.Keys {
			if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) == 1 {
				return nil, nil
			}
		}
		return nil, ErrForbidden
	case workflow.AuthBearer:
		raw := req.Headers.Get("Authorization")
		if !strings.HasPrefix(raw, "Bearer ") {
			return nil, ErrUnauthorized
		}
		return verifyBearer(strings.TrimSpace(strings.TrimPrefix(raw, "Bearer ")), auth.Secret)
	case workflow.AuthSignature:
		header := auth.Header
		if header == "" {
			header = DefaultSignatureHeader
		}
		signature := req.Headers.Get(header)
		if signature == "" {
			return nil, ErrUnauthorized
		}
		if !VerifySignature(auth.Secret, req.Body, signature) {
			return nil, ErrForbidden
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: unsupported auth method %q", ErrForbidden, auth.Method)
	}
}

// verifyBearer 校验 HS256 JWT
func verifyBearer(tokenString, secret string) (map[string]interface{}, error) {
	if tokenString == "" {
		return nil, ErrUnauthorized
	}
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrForbidden, err)
	}
	return map[string]interface{}(claims), nil
}

// Sign 计算请求体的 HMAC-SHA256 十六进制签名
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature 校验签名，允许 sha256= 前缀
func VerifySignature(secret string, body []byte, signature string) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(Sign(secret, body))
	return hmac.Equal(got, want)
}

// NewBearerToken 签发测试与客户端使用的 HS256 令牌
func NewBearerToken(secret, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func decodeBody(body []byte) interface{} {
	if len(body) == 0 {
		return map[string]interface{}{}
	}
	var decoded interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return map[string]interface{}{"raw": string(body)}
	}
	return decoded
}

func flattenHeaders(headers http.Header) map[string]interface{} {
	out := make(map[string]interface{}, len(headers))
	for key, values := range headers {
		if len(values) > 0 {
			out[strings.ToLower(key)] = values[0]
		}
	}
	return out
}

func flattenValues(values map[string][]string) map[string]interface{} {
	out := make(map[string]interface{}, len(values))
	for key, list := range values {
		if len(list) > 0 {
			out[key] = list[0]
		}
	}
	return out
}
