package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/BaSui01/crewplanner/llm/retry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// APITool 调用远程 HTTP 接口。实例无状态，可被并发使用。
type APITool struct {
	name        string
	description string
	cfg         APIConfig
	timeout     time.Duration
	client      *http.Client
	limiter     *rate.Limiter
	retryer     *retry.Retryer
	logger      *zap.Logger
}

// NewAPITool 由已校验的配置创建 API 工具
func NewAPITool(tc ToolConfig, client *http.Client, logger *zap.Logger) *APITool {
	cfg := *tc.API
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	log := logger.With(zap.String("tool", tc.Name), zap.String("type", string(TypeAPI)))
	return &APITool{
		name:        tc.Name,
		description: tc.Description,
		cfg:         cfg,
		timeout:     seconds(cfg.Timeout, 30*time.Second),
		client:      client,
		limiter:     newLimiter(cfg.RateLimit),
		retryer: retry.NewRetryer(&retry.RetryPolicy{
			MaxRetries:   cfg.RetryCount,
			InitialDelay: seconds(cfg.RetryDelay, time.Second),
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			ShouldRetry:  shouldRetryHTTP,
		}, log),
		logger: log,
	}
}

func (t *APITool) Name() string        { return t.name }
func (t *APITool) Description() string { return t.description }
func (t *APITool) Params() Params      { return t.cfg.Params }

type httpPayload struct {
	raw     []byte
	decoded any
}

// Run 执行调用：参数校验 → 限流 → 带退避的请求 → 响应映射
func (t *APITool) Run(ctx context.Context, args map[string]any) Result {
	args, invalid := t.cfg.Params.Apply(args)
	if invalid != nil {
		return *invalid
	}
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return Failure(ErrTypeRateLimited, "rate limit wait aborted: %v", err)
		}
	}

	start := time.Now()
	p, err := retry.Do(ctx, t.retryer, func(ctx context.Context) (httpPayload, error) {
		return t.once(ctx, args)
	})
	if err != nil {
		t.logger.Warn("api call failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return classifyError(err)
	}
	t.logger.Debug("api call succeeded", zap.Duration("elapsed", time.Since(start)))
	return Success(applyMapping(p.raw, p.decoded, t.cfg.ResponseMapping))
}

func (t *APITool) RunAsync(ctx context.Context, args map[string]any) <-chan Result {
	return RunAsync(ctx, t.Run, args)
}

func (t *APITool) once(ctx context.Context, args map[string]any) (httpPayload, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := t.buildRequest(ctx, args)
	if err != nil {
		return httpPayload{}, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return httpPayload{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return httpPayload{}, &httpStatusError{Status: resp.StatusCode, Body: errorBody(resp.Body)}
	}
	raw, decoded, err := readBody(resp)
	if err != nil {
		return httpPayload{}, &decodeError{err: err}
	}
	return httpPayload{raw: raw, decoded: decoded}, nil
}

// buildRequest GET/DELETE 把参数放在查询串，其它方法作为 JSON body
func (t *APITool) buildRequest(ctx context.Context, args map[string]any) (*http.Request, error) {
	var body io.Reader
	endpoint := t.cfg.Endpoint

	switch t.cfg.Method {
	case http.MethodGet, http.MethodDelete:
		if len(args) > 0 {
			u, err := url.Parse(endpoint)
			if err != nil {
				return nil, err
			}
			q := u.Query()
			for k, v := range args {
				if list, ok := v.([]any); ok {
					for _, item := range list {
						q.Add(k, queryValue(item))
					}
					continue
				}
				q.Set(k, queryValue(v))
			}
			u.RawQuery = q.Encode()
			endpoint = u.String()
		}
	default:
		data, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, t.cfg.Method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}
	applyAuth(req, t.cfg.Auth)
	return req, nil
}

func queryValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case map[string]any:
		data, _ := json.Marshal(x)
		return string(data)
	default:
		return fmt.Sprint(x)
	}
}
