package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/labstock/labstock-backend/internal/notifications"
	"github.com/labstock/labstock-backend/pkg/enums"
	pkgerrors "github.com/labstock/labstock-backend/pkg/errors"
)

type testNotificationsService struct {
	listFn        func(ctx context.Context, params notifications.ListParams) (*notifications.ListResult, error)
	markReadFn    func(ctx context.Context, recipientID uuid.UUID, role enums.Role, notificationID uuid.UUID) error
	markAllReadFn func(ctx context.Context, recipientID uuid.UUID, role enums.Role) (int64, error)
}

func (s *testNotificationsService) List(ctx context.Context, params notifications.ListParams) (*notifications.ListResult, error) {
	if s.listFn != nil {
		return s.listFn(ctx, params)
	}
	return &notifications.ListResult{}, nil
}

func (s *testNotificationsService) MarkRead(ctx context.Context, recipientID uuid.UUID, role enums.Role, notificationID uuid.UUID) error {
	if s.markReadFn != nil {
		return s.markReadFn(ctx, recipientID, role, notificationID)
	}
	return nil
}

func (s *testNotificationsService) MarkAllRead(ctx context.Context, recipientID uuid.UUID, role enums.Role) (int64, error) {
	if s.markAllReadFn != nil {
		return s.markAllReadFn(ctx, recipientID, role)
	}
	return 0, nil
}

func TestListNotificationsForwardsParams(t *testing.T) {
	recipientID := uuid.New()
	svc := &testNotificationsService{
		listFn: func(_ context.Context, params notifications.ListParams) (*notifications.ListResult, error) {
			if params.RecipientID != recipientID {
				t.Fatalf("unexpected recipient %s", params.RecipientID)
			}
			if params.Role != enums.RoleStaff {
				t.Fatalf("unexpected role %s", params.Role)
			}
			if params.Limit != 5 || params.Cursor != "cur" || !params.UnreadOnly {
				t.Fatalf("unexpected params %+v", params)
			}
			return &notifications.ListResult{Cursor: "next"}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications?limit=5&cursor=cur&unread_only=true", nil)
	req = withIdentity(req, recipientID, enums.RoleStaff)
	resp := httptest.NewRecorder()
	ListNotifications(svc, controllerLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	var envelope struct {
		Data notifications.ListResult `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.Cursor != "next" {
		t.Fatalf("expected cursor passthrough, got %q", envelope.Data.Cursor)
	}
}

func TestListNotificationsRejectsBadQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications?unread_only=maybe", nil)
	req = withIdentity(req, uuid.New(), enums.RoleStudent)
	resp := httptest.NewRecorder()
	ListNotifications(&testNotificationsService{}, controllerLogger())(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestMarkNotificationRead(t *testing.T) {
	recipientID := uuid.New()
	notificationID := uuid.New()
	called := false
	svc := &testNotificationsService{
		markReadFn: func(_ context.Context, rid uuid.UUID, role enums.Role, nid uuid.UUID) error {
			called = true
			if rid != recipientID || nid != notificationID || role != enums.RoleStudent {
				t.Fatalf("unexpected call rid=%s nid=%s role=%s", rid, nid, role)
			}
			return nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/"+notificationID.String()+"/read", nil)
	req = withIdentity(req, recipientID, enums.RoleStudent)
	req = addRouteParam(req, "notificationId", notificationID.String())
	resp := httptest.NewRecorder()
	MarkNotificationRead(svc, controllerLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if !called {
		t.Fatal("expected service called")
	}
}

func TestMarkNotificationReadNotFound(t *testing.T) {
	svc := &testNotificationsService{
		markReadFn: func(context.Context, uuid.UUID, enums.Role, uuid.UUID) error {
			return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
		},
	}
	notificationID := uuid.NewString()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/"+notificationID+"/read", nil)
	req = withIdentity(req, uuid.New(), enums.RoleStudent)
	req = addRouteParam(req, "notificationId", notificationID)
	resp := httptest.NewRecorder()
	MarkNotificationRead(svc, controllerLogger())(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestMarkAllNotificationsRead(t *testing.T) {
	recipientID := uuid.New()
	svc := &testNotificationsService{
		markAllReadFn: func(_ context.Context, rid uuid.UUID, _ enums.Role) (int64, error) {
			if rid != recipientID {
				t.Fatalf("unexpected recipient %s", rid)
			}
			return 4, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/read-all", nil)
	req = withIdentity(req, recipientID, enums.RoleStaff)
	resp := httptest.NewRecorder()
	MarkAllNotificationsRead(svc, controllerLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	var envelope struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data["count"] != float64(4) {
		t.Fatalf("expected count=4 got %v", envelope.Data["count"])
	}
}
