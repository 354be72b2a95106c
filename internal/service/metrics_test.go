package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	lberrors "github.com/mir00r/domain-router/internal/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	m.RecordValidation(true)
	m.RecordValidation(false)
	m.RecordCompilation(3, 0, 10*time.Millisecond)
	m.RecordApply(nil, false, time.Second)
	m.RecordApply(nil, true, time.Millisecond)
	m.RecordApply(lberrors.NewError(lberrors.ErrCodeApplyFailed, "applier", "reload failed"), false, time.Second)
	m.RecordEdit(nil)
	m.RecordEdit(lberrors.NewPoolNotFoundError("pool_manager", "be_x"))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.validations.WithLabelValues("failure")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.compilations.WithLabelValues("success")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.domains))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.applies.WithLabelValues("unchanged")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.applies.WithLabelValues("failure")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.edits.WithLabelValues("POOL_NOT_FOUND")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "domain_router_applies_total")
}
