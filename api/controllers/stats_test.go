package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/labstock/labstock-backend/internal/stats"
	pkgerrors "github.com/labstock/labstock-backend/pkg/errors"
)

type testStatsService struct {
	overviewFn func(ctx context.Context) (*stats.Overview, error)
}

func (s *testStatsService) Overview(ctx context.Context) (*stats.Overview, error) {
	if s.overviewFn != nil {
		return s.overviewFn(ctx)
	}
	return &stats.Overview{}, nil
}

func TestAdminStats(t *testing.T) {
	svc := &testStatsService{
		overviewFn: func(context.Context) (*stats.Overview, error) {
			return &stats.Overview{
				Components: stats.OverviewComponents{Total: 3, TotalUnits: 15, LowStock: 2, OutOfStock: 1},
				Requests:   stats.OverviewRequests{Total: 4, Pending: 2, Approved: 1, Rejected: 1},
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil)
	resp := httptest.NewRecorder()
	AdminStats(svc, controllerLogger())(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)

	var envelope struct {
		Data stats.Overview `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	require.Equal(t, int64(15), envelope.Data.Components.TotalUnits)
	require.Equal(t, int64(2), envelope.Data.Requests.Pending)
}

func TestAdminStatsDependencyFailure(t *testing.T) {
	svc := &testStatsService{
		overviewFn: func(context.Context) (*stats.Overview, error) {
			return nil, pkgerrors.New(pkgerrors.CodeDependency, "stats query failed")
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil)
	resp := httptest.NewRecorder()
	AdminStats(svc, controllerLogger())(resp, req)

	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
}
