package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubPinger struct{ err error }

func (p stubPinger) Health(context.Context) error { return p.err }

func TestChecker_Endpoints(t *testing.T) {
	t.Run("存储可用", func(t *testing.T) {
		hc := NewChecker(stubPinger{}, zap.NewNop(), "test", "test")

		rec := httptest.NewRecorder()
		hc.ReadyEndpoint(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = httptest.NewRecorder()
		hc.LiveEndpoint(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("存储不可用时未就绪但仍存活", func(t *testing.T) {
		hc := NewChecker(stubPinger{err: errors.New("connection refused")}, zap.NewNop(), "test", "test")

		rec := httptest.NewRecorder()
		hc.ReadyEndpoint(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		rec = httptest.NewRecorder()
		hc.LiveEndpoint(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestChecker_Report(t *testing.T) {
	report := NewChecker(stubPinger{}, zap.NewNop(), "1.0.0", "test").Report(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Equal(t, "1.0.0", report.Version)
	require.Len(t, report.Checks, 3)
	assert.Equal(t, "store", report.Checks[0].Name)

	report = NewChecker(stubPinger{err: errors.New("down")}, zap.NewNop(), "1.0.0", "test").Report(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Contains(t, report.Checks[0].Message, "down")
}
