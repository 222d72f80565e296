package retry

import (
	"context"

	"github.com/BaSui01/crewplanner/llm"
)

type retryingProvider struct {
	llm.Provider
	retryer *Retryer
}

// WrapProvider 为 Completion 加上退避重试，仅重试 llm.IsRetryable 的错误。
// Stream 不重试：已经产生的增量无法回放。
func WrapProvider(p llm.Provider, r *Retryer) llm.Provider {
	if r == nil || r.policy.MaxRetries == 0 {
		return p
	}
	if r.policy.ShouldRetry == nil {
		policy := r.policy
		policy.ShouldRetry = llm.IsRetryable
		r = &Retryer{policy: policy, logger: r.logger}
	}
	return &retryingProvider{Provider: p, retryer: r}
}

func (p *retryingProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return Do(ctx, p.retryer, func(ctx context.Context) (*llm.ChatResponse, error) {
		return p.Provider.Completion(ctx, req)
	})
}
