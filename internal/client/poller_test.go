package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tinypm/backend/internal/domain"
)

type scriptedVerifier struct {
	steps []func() (*domain.CustomDomainView, error)
	calls int
}

func (s *scriptedVerifier) VerifyDomain(ctx context.Context, id string) (*domain.CustomDomainView, error) {
	i := s.calls
	s.calls++
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	return s.steps[i]()
}

func viewWith(status domain.DomainStatus, remaining int) func() (*domain.CustomDomainView, error) {
	return func() (*domain.CustomDomainView, error) {
		return &domain.CustomDomainView{
			CustomDomain:      &domain.CustomDomain{ID: "d1", Domain: "links.example.com", Status: status},
			AttemptsRemaining: remaining,
		}, nil
	}
}

func failWith(err error) func() (*domain.CustomDomainView, error) {
	return func() (*domain.CustomDomainView, error) { return nil, err }
}

func newTestPoller(v DomainVerifier, rounds int) (*Poller, *[]time.Duration) {
	var waits []time.Duration
	p := NewPoller(v, 10*time.Second, rounds)
	p.wait = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return p, &waits
}

func TestPoller_Run(t *testing.T) {
	t.Run("激活后停止", func(t *testing.T) {
		v := &scriptedVerifier{steps: []func() (*domain.CustomDomainView, error){
			viewWith(domain.DomainStatusDNSVerification, 4),
			viewWith(domain.DomainStatusActive, 3),
		}}
		p, waits := newTestPoller(v, 30)

		view, err := p.Run(context.Background(), "d1")
		require.NoError(t, err)
		assert.Equal(t, domain.DomainStatusActive, view.Status)
		assert.Equal(t, 2, v.calls)
		assert.Equal(t, []time.Duration{10 * time.Second}, *waits)
	})

	t.Run("轮询预算耗尽", func(t *testing.T) {
		v := &scriptedVerifier{steps: []func() (*domain.CustomDomainView, error){
			viewWith(domain.DomainStatusDNSVerification, 4),
		}}
		p, waits := newTestPoller(v, 3)

		view, err := p.Run(context.Background(), "d1")
		assert.ErrorIs(t, err, ErrPollBudgetExhausted)
		require.NotNil(t, view)
		assert.Equal(t, 3, v.calls)
		assert.Len(t, *waits, 2)
	})

	t.Run("一次失败即停止", func(t *testing.T) {
		v := &scriptedVerifier{steps: []func() (*domain.CustomDomainView, error){
			viewWith(domain.DomainStatusFailed, 4),
		}}
		p, waits := newTestPoller(v, 30)

		view, err := p.Run(context.Background(), "d1")
		assert.ErrorIs(t, err, ErrVerificationFailed)
		require.NotNil(t, view)
		assert.Equal(t, domain.DomainStatusFailed, view.Status)
		assert.Equal(t, 4, view.AttemptsRemaining)
		assert.Equal(t, 1, v.calls)
		assert.Empty(t, *waits)
	})

	t.Run("冷却期按服务端提示等待", func(t *testing.T) {
		v := &scriptedVerifier{steps: []func() (*domain.CustomDomainView, error){
			failWith(&APIError{Status: 400, Code: "COOLDOWN", RetryAfterSeconds: 42}),
			viewWith(domain.DomainStatusActive, 4),
		}}
		p, waits := newTestPoller(v, 30)

		_, err := p.Run(context.Background(), "d1")
		require.NoError(t, err)
		assert.Equal(t, []time.Duration{42 * time.Second}, *waits)
	})

	t.Run("服务端次数用完立即停止", func(t *testing.T) {
		v := &scriptedVerifier{steps: []func() (*domain.CustomDomainView, error){
			failWith(&APIError{Status: 400, Code: "MAX_ATTEMPTS"}),
		}}
		p, _ := newTestPoller(v, 30)

		_, err := p.Run(context.Background(), "d1")
		assert.ErrorIs(t, err, ErrAttemptsExhausted)
		assert.Equal(t, 1, v.calls)
	})

	t.Run("最后一次失败后停止", func(t *testing.T) {
		v := &scriptedVerifier{steps: []func() (*domain.CustomDomainView, error){
			viewWith(domain.DomainStatusFailed, 0),
		}}
		p, _ := newTestPoller(v, 30)

		view, err := p.Run(context.Background(), "d1")
		assert.ErrorIs(t, err, ErrAttemptsExhausted)
		assert.Equal(t, domain.DomainStatusFailed, view.Status)
		assert.Equal(t, 1, v.calls)
	})

	t.Run("记录不存在", func(t *testing.T) {
		v := &scriptedVerifier{steps: []func() (*domain.CustomDomainView, error){
			failWith(&APIError{Status: 404, Code: "NOT_FOUND"}),
		}}
		p, _ := newTestPoller(v, 30)

		_, err := p.Run(context.Background(), "d1")
		assert.True(t, IsKind(err, domain.ErrKindNotFound))
	})

	t.Run("网络错误继续轮询", func(t *testing.T) {
		v := &scriptedVerifier{steps: []func() (*domain.CustomDomainView, error){
			failWith(errors.New("connection reset")),
			viewWith(domain.DomainStatusActive, 4),
		}}
		p, _ := newTestPoller(v, 30)

		_, err := p.Run(context.Background(), "d1")
		require.NoError(t, err)
		assert.Equal(t, 2, v.calls)
	})

	t.Run("取消后停止", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		v := &scriptedVerifier{steps: []func() (*domain.CustomDomainView, error){
			viewWith(domain.DomainStatusDNSVerification, 4),
		}}
		p, _ := newTestPoller(v, 30)
		p.OnUpdate = func(round int, view *domain.CustomDomainView, err error) {
			if round == 2 {
				cancel()
			}
		}

		_, err := p.Run(ctx, "d1")
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 2, v.calls)
	})
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))
}
