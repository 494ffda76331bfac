package client

import (
	"context"
	"errors"
	"time"

	"tinypm/backend/internal/domain"
)

// 轮询默认参数：每 10 秒一次，最多 30 轮
const (
	DefaultPollInterval  = 10 * time.Second
	DefaultPollMaxRounds = 30
)

var (
	// ErrPollBudgetExhausted 轮询次数用完仍未激活
	ErrPollBudgetExhausted = errors.New("verification polling budget exhausted")
	// ErrAttemptsExhausted 服务端验证次数已用完
	ErrAttemptsExhausted = errors.New("verification attempts exhausted")
	// ErrVerificationFailed 本次验证失败，是否重试由调用方决定
	ErrVerificationFailed = errors.New("verification failed")
)

// DomainVerifier 轮询依赖的验证接口
type DomainVerifier interface {
	VerifyDomain(ctx context.Context, id string) (*domain.CustomDomainView, error)
}

// Poller 反复调用验证接口直到域名激活
//
// 客户端轮询预算与服务端的尝试上限相互独立，两者都会终止轮询。
type Poller struct {
	verifier  DomainVerifier
	interval  time.Duration
	maxRounds int
	wait      func(ctx context.Context, d time.Duration) error

	// OnUpdate 每轮拿到结果后回调，可为空
	OnUpdate func(round int, view *domain.CustomDomainView, err error)
}

// NewPoller 创建轮询器，非正数参数使用默认值
func NewPoller(verifier DomainVerifier, interval time.Duration, maxRounds int) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if maxRounds <= 0 {
		maxRounds = DefaultPollMaxRounds
	}
	return &Poller{
		verifier:  verifier,
		interval:  interval,
		maxRounds: maxRounds,
		wait:      sleepContext,
	}
}

// Run 轮询直到出现以下任一情况：
//   - 状态离开 DNS_VERIFICATION：ACTIVE 返回 nil，FAILED 返回 ErrVerificationFailed
//     （次数用完时为 ErrAttemptsExhausted）；
//   - 服务端报告尝试次数用完或记录不存在；
//   - 轮询预算耗尽；
//   - ctx 被取消。
func (p *Poller) Run(ctx context.Context, id string) (*domain.CustomDomainView, error) {
	var last *domain.CustomDomainView

	for round := 1; round <= p.maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return last, err
		}

		view, err := p.verifier.VerifyDomain(ctx, id)
		if p.OnUpdate != nil {
			p.OnUpdate(round, view, err)
		}

		delay := p.interval
		switch {
		case err == nil:
			last = view
			switch view.Status {
			case domain.DomainStatusActive:
				return view, nil
			case domain.DomainStatusFailed:
				if view.AttemptsRemaining == 0 {
					return view, ErrAttemptsExhausted
				}
				return view, ErrVerificationFailed
			}
		case IsKind(err, domain.ErrKindCooldown):
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				if retry := time.Duration(apiErr.RetryAfterSeconds) * time.Second; retry > delay {
					delay = retry
				}
			}
		case IsKind(err, domain.ErrKindMaxAttempts):
			return last, ErrAttemptsExhausted
		case IsKind(err, domain.ErrKindNotFound):
			return last, err
		case ctx.Err() != nil:
			return last, ctx.Err()
		}

		if round == p.maxRounds {
			break
		}
		if err := p.wait(ctx, delay); err != nil {
			return last, err
		}
	}

	return last, ErrPollBudgetExhausted
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
