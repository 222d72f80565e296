package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"unicode/utf8"

	"golang.org/x/time/rate"
)

// 触发重试的状态码
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// httpStatusError 非 2xx 响应
type httpStatusError struct {
	Status int
	Body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// shouldRetryHTTP 可重试的状态码或连接错误
func shouldRetryHTTP(err error) bool {
	var se *httpStatusError
	if errors.As(err, &se) {
		return retryableStatus[se.Status]
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return !netErr.Timeout()
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) || errors.Is(err, io.ErrUnexpectedEOF)
}

// applyAuth 按判别字段设置认证头
func applyAuth(req *http.Request, auth *AuthConfig) {
	if auth == nil {
		return
	}
	switch auth.Type {
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	case AuthBasic:
		cred := base64.StdEncoding.EncodeToString([]byte(auth.Username + ":" + auth.Password))
		req.Header.Set("Authorization", "Basic "+cred)
	case AuthAPIKey:
		header := auth.Header
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, auth.Key)
	}
}

func newLimiter(cfg *RateLimitConfig) *rate.Limiter {
	if cfg == nil {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
}

// readBody 读取响应并尝试按 JSON 解码；非 JSON 时返回原始文本
func readBody(resp *http.Response) ([]byte, any, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, nil, err
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return data, nil, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		if strings.Contains(resp.Header.Get("Content-Type"), "json") {
			return data, nil, fmt.Errorf("decode response: %w", err)
		}
		return data, trimmed, nil
	}
	return data, v, nil
}

// errorBody 读取非 2xx 响应体的前 4KB，丢弃被截断的半个字符
func errorBody(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, 4096))
	return strings.TrimSpace(strings.ToValidUTF8(string(body), ""))
}

// truncate 按字符截断，保证结果仍是合法 UTF-8
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

// classifyError 把调用错误映射为结构化失败结果
func classifyError(err error) Result {
	var se *httpStatusError
	var decodeErr *decodeError
	switch {
	case errors.As(err, &se):
		return Failure(ErrTypeHTTP, "%s", truncate(se.Error(), 500))
	case errors.As(err, &decodeErr):
		return Failure(ErrTypeDecode, "%v", decodeErr.err)
	case errors.Is(err, context.DeadlineExceeded):
		return Failure(ErrTypeTimeout, "request timed out")
	case errors.Is(err, context.Canceled):
		return Failure(ErrTypeCancelled, "request cancelled")
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return Failure(ErrTypeTimeout, "%v", err)
		}
		return Failure(ErrTypeNetwork, "%v", err)
	}
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return e.err.Error() }
