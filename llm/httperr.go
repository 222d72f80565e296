package llm

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// MapHTTPError 将 HTTP 状态码映射为带有合适重试标记的 *Error
func MapHTTPError(status int, msg string, provider string) *Error {
	e := &Error{Message: msg, HTTPStatus: status, Provider: provider}
	switch status {
	case http.StatusUnauthorized:
		e.Code = ErrUnauthorized
	case http.StatusForbidden:
		e.Code = ErrForbidden
	case http.StatusTooManyRequests:
		e.Code, e.Retryable = ErrRateLimited, true
	case http.StatusBadRequest:
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "quota") || strings.Contains(lower, "credit") {
			e.Code = ErrQuotaExceeded
		} else {
			e.Code = ErrInvalidRequest
		}
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		e.Code, e.Retryable = ErrUpstreamTimeout, true
	case 529:
		e.Code, e.Retryable = ErrModelOverloaded, true
	default:
		e.Code, e.Retryable = ErrUpstreamError, status >= 500
	}
	return e
}

// NetworkError 包装传输层错误，默认可重试
func NetworkError(err error, provider string) *Error {
	return &Error{
		Code: ErrUpstreamError, Message: err.Error(),
		HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: provider,
	}
}

// ReadErrorMessage 读取响应体中的错误消息，JSON 解析失败时回退到原始文本
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}
	return string(data)
}
