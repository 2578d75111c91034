package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/subject-registration-api/internal/dto"
	"github.com/noah-isme/subject-registration-api/internal/middleware"
)

type fakeDashboardSrv struct {
	resp *dto.AdminDashboardResponse
	hit  bool
	err  error
}

func (f *fakeDashboardSrv) Admin(context.Context) (*dto.AdminDashboardResponse, bool, error) {
	return f.resp, f.hit, f.err
}

func TestDashboardHandlerAdminSuccess(t *testing.T) {
	h := NewDashboardHandler(&fakeDashboardSrv{
		resp: &dto.AdminDashboardResponse{Totals: dto.DashboardTotals{Subjects: 3, OpenSubjects: 2}},
		hit:  true,
	})

	c, rec := newTestContext(http.MethodGet, "/admin/dashboard", nil)
	middleware.WithResponseMeta()(c)
	h.Admin(c)

	require.Equal(t, http.StatusOK, rec.Code)
	envelope := decodeEnvelope(t, rec)
	assert.Equal(t, true, envelope.Meta["cache_hit"])
	assert.Contains(t, envelope.Meta, "processing_time_ms")
	assert.Contains(t, string(envelope.Data), `"open_subjects":2`)
}

func TestDashboardHandlerAdminError(t *testing.T) {
	h := NewDashboardHandler(&fakeDashboardSrv{err: errors.New("db down")})

	c, rec := newTestContext(http.MethodGet, "/admin/dashboard", nil)
	h.Admin(c)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeEnvelope(t, rec).Error.Code)
}
