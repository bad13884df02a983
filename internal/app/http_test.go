package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fieldqa/api/internal/auth"
	"fieldqa/api/internal/authpw"
	"fieldqa/api/internal/enrich"
	"fieldqa/api/internal/qa"
	"fieldqa/api/internal/store"
)

func newTestServer(fake *fakeStore) (*HTTPServer, *auth.Tokens) {
	tokens := auth.NewTokens("test-secret", time.Hour)
	service := NewService(ServiceOptions{
		Store:     fake,
		Tokens:    tokens,
		Passwords: authpw.NewService(fake),
		Resolver:  enrich.NewResolver(fake),
	})
	return NewHTTPServer(service, "*"), tokens
}

func bearerFor(t *testing.T, tokens *auth.Tokens, actor Actor) string {
	t.Helper()
	signed, _, err := tokens.Issue(actor.ID, actor.Name, actor.Role, time.Now().UTC())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return "Bearer " + signed
}

func doJSON(t *testing.T, handler http.Handler, method, path, authz string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func TestHealthNeedsNoAuth(t *testing.T) {
	server, _ := newTestServer(&fakeStore{})
	recorder := doJSON(t, server.Handler(), http.MethodGet, "/api/health", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}

func TestProtectedRoutesRejectMissingToken(t *testing.T) {
	server, _ := newTestServer(&fakeStore{})
	for _, path := range []string{"/api/qa-items", "/api/activity", "/api/summary", "/api/projects"} {
		recorder := doJSON(t, server.Handler(), http.MethodGet, path, "", nil)
		if recorder.Code != http.StatusUnauthorized {
			t.Errorf("GET %s without token: expected 401, got %d", path, recorder.Code)
		}
	}
}

func TestSignUpThenSignIn(t *testing.T) {
	profiles := map[string]store.Profile{}
	fake := &fakeStore{
		createProfileFn: func(_ context.Context, profile store.Profile) (store.Profile, error) {
			profile.ID = "user-1"
			profiles[profile.Email] = profile
			return profile, nil
		},
		getProfileByEmailFn: func(_ context.Context, email string) (store.Profile, error) {
			profile, ok := profiles[email]
			if !ok {
				return store.Profile{}, sql.ErrNoRows
			}
			return profile, nil
		},
	}
	server, _ := newTestServer(fake)
	handler := server.Handler()

	recorder := doJSON(t, handler, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email":    "dana@example.com",
		"fullName": "Dana",
		"password": "long-enough-pw",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = doJSON(t, handler, http.MethodPost, "/api/auth/signin", "", map[string]string{
		"email":    "dana@example.com",
		"password": "long-enough-pw",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("signin: expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var session Session
	if err := json.Unmarshal(recorder.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if session.Token == "" || session.Role != qa.RoleJuniorEngineer {
		t.Fatalf("unexpected session: %+v", session)
	}

	recorder = doJSON(t, handler, http.MethodPost, "/api/auth/signin", "", map[string]string{
		"email":    "dana@example.com",
		"password": "wrong",
	})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("bad password: expected 401, got %d", recorder.Code)
	}
}

func TestSessionEndpointReportsActor(t *testing.T) {
	server, tokens := newTestServer(&fakeStore{})
	recorder := doJSON(t, server.Handler(), http.MethodGet, "/api/session", bearerFor(t, tokens, pm), nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var payload struct {
		Authenticated bool   `json:"authenticated"`
		Role          string `json:"role"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !payload.Authenticated || payload.Role != "pm" {
		t.Fatalf("unexpected session payload: %+v", payload)
	}
}

func TestTransitionEndpoint(t *testing.T) {
	fake := &fakeStore{
		getItemFn: func(context.Context, string) (store.QAItem, error) { return baseItem(), nil },
		transitionItemFn: func(_ context.Context, params store.TransitionParams) (store.QAItem, store.ActivityLogEntry, error) {
			item := baseItem()
			item.Status = params.To
			item.UpdatedAt = time.Now().UTC()
			return item, store.ActivityLogEntry{ID: 1, ActivityType: qa.ActivityStatusChange}, nil
		},
	}
	server, tokens := newTestServer(fake)
	handler := server.Handler()

	version := baseItem().UpdatedAt.Format(time.RFC3339Nano)
	recorder := doJSON(t, handler, http.MethodPost, "/api/qa-items/item-1/transition", bearerFor(t, tokens, senior), map[string]string{
		"to":              "resolved",
		"expectedVersion": version,
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["status"] != "resolved" {
		t.Fatalf("expected resolved, got %v", payload["status"])
	}
}

func TestTransitionEndpointReportsConflict(t *testing.T) {
	fake := &fakeStore{
		getItemFn: func(context.Context, string) (store.QAItem, error) { return baseItem(), nil },
		transitionItemFn: func(context.Context, store.TransitionParams) (store.QAItem, store.ActivityLogEntry, error) {
			return store.QAItem{}, store.ActivityLogEntry{}, store.ErrVersionConflict
		},
	}
	server, tokens := newTestServer(fake)

	recorder := doJSON(t, server.Handler(), http.MethodPost, "/api/qa-items/item-1/transition", bearerFor(t, tokens, senior), map[string]string{
		"to":              "resolved",
		"expectedVersion": baseItem().UpdatedAt.Add(-time.Minute).Format(time.RFC3339Nano),
	})
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var payload struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Code != "CONFLICT" {
		t.Fatalf("expected CONFLICT code, got %q", payload.Code)
	}
}

func TestTransitionEndpointRequiresVersion(t *testing.T) {
	fake := &fakeStore{
		getItemFn: func(context.Context, string) (store.QAItem, error) { return baseItem(), nil },
	}
	server, tokens := newTestServer(fake)

	recorder := doJSON(t, server.Handler(), http.MethodPost, "/api/qa-items/item-1/transition", bearerFor(t, tokens, senior), map[string]string{
		"to": "resolved",
	})
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for missing expectedVersion, got %d", recorder.Code)
	}
}

func TestRoleChangeRequiresAdmin(t *testing.T) {
	server, tokens := newTestServer(&fakeStore{})
	recorder := doJSON(t, server.Handler(), http.MethodPut, "/api/users/user-2/role", bearerFor(t, tokens, pm), map[string]string{
		"role": "senior_engineer",
	})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", recorder.Code)
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	server, tokens := newTestServer(&fakeStore{})
	recorder := doJSON(t, server.Handler(), http.MethodGet, "/api/widgets", bearerFor(t, tokens, pm), nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}
