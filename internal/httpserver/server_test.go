package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"talecraft/story-vault/internal/auth"
	"talecraft/story-vault/internal/generator"
	"talecraft/story-vault/internal/stories"
)

type fakeAuthService struct {
	registerFunc func(username, password string) (auth.Account, error)
	loginFunc    func(username, password string) (auth.Session, error)
	logoutFunc   func(token string) error
	sessionFunc  func(token string) (auth.Session, bool)
}

func (f fakeAuthService) Register(_ context.Context, username, password string) (auth.Account, error) {
	if f.registerFunc == nil {
		return auth.Account{}, errors.New("not implemented")
	}
	return f.registerFunc(username, password)
}

func (f fakeAuthService) Login(_ context.Context, username, password string) (auth.Session, error) {
	if f.loginFunc == nil {
		return auth.Session{}, errors.New("not implemented")
	}
	return f.loginFunc(username, password)
}

func (f fakeAuthService) Logout(_ context.Context, token string) error {
	if f.logoutFunc == nil {
		return nil
	}
	return f.logoutFunc(token)
}

func (f fakeAuthService) CurrentSession(_ context.Context, token string) (auth.Session, bool) {
	if f.sessionFunc == nil {
		return auth.Session{}, false
	}
	return f.sessionFunc(token)
}

type fakeStoryService struct {
	generateFunc  func(token string, req generator.Request) (stories.Story, error)
	listFunc      func(token string) ([]stories.Story, error)
	favoritesFunc func(token string) ([]stories.Story, error)
	toggleFunc    func(token, id string) (stories.Story, error)
	deleteFunc    func(token, id string) error
	profileFunc   func(token string) (stories.Profile, error)
}

func (f fakeStoryService) Generate(_ context.Context, token string, req generator.Request) (stories.Story, error) {
	return f.generateFunc(token, req)
}
func (f fakeStoryService) ListMine(_ context.Context, token string) ([]stories.Story, error) {
	return f.listFunc(token)
}
func (f fakeStoryService) ListMyFavorites(_ context.Context, token string) ([]stories.Story, error) {
	return f.favoritesFunc(token)
}
func (f fakeStoryService) ToggleFavorite(_ context.Context, token, id string) (stories.Story, error) {
	return f.toggleFunc(token, id)
}
func (f fakeStoryService) Delete(_ context.Context, token, id string) error {
	return f.deleteFunc(token, id)
}
func (f fakeStoryService) Profile(_ context.Context, token string) (stories.Profile, error) {
	return f.profileFunc(token)
}

type recordedEvent struct {
	actor, action, target, outcome string
}

type fakeAudit struct {
	events []recordedEvent
}

func (a *fakeAudit) Log(actor, action, target, outcome, _ string) {
	a.events = append(a.events, recordedEvent{actor, action, target, outcome})
}

func aliceSession(token string) (auth.Session, bool) {
	if token != "token-123" {
		return auth.Session{}, false
	}
	return auth.Session{ID: "s1", Token: token, Username: "alice", ExpiresAt: time.Now().Add(time.Hour)}, true
}

func do(t *testing.T, h http.Handler, method, target, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	handler := loggingMiddleware(nil, NewHandler(Deps{}))
	rec := do(t, handler, http.MethodGet, "/healthz", "", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected X-Request-Id header to be set")
	}
}

func TestReadyz(t *testing.T) {
	ready := NewHandler(Deps{Ready: func(context.Context) error { return nil }})
	if rec := do(t, ready, http.MethodGet, "/readyz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	down := NewHandler(Deps{Ready: func(context.Context) error { return errors.New("db down") }})
	if rec := do(t, down, http.MethodGet, "/readyz", "", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
}

func TestInfo(t *testing.T) {
	handler := NewHandler(Deps{GeneratorName: "offline"})
	rec := do(t, handler, http.MethodGet, "/v1/info", "", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var got map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if got["service"] != "story-vault" || got["generator"] != "offline" {
		t.Fatalf("unexpected info payload: %v", got)
	}
}

func TestRegister(t *testing.T) {
	audit := &fakeAudit{}
	handler := NewHandler(Deps{Audit: audit, Auth: fakeAuthService{registerFunc: func(username, password string) (auth.Account, error) {
		switch {
		case username == "" || password == "":
			return auth.Account{}, auth.ErrWeakInput
		case username == "taken":
			return auth.Account{}, fmt.Errorf("insert account: %w", auth.ErrAlreadyExists)
		}
		return auth.Account{Username: username, CreatedAt: time.Now()}, nil
	}}})

	cases := []struct {
		body string
		want int
	}{
		{`{"username":"alice","password":"pw123"}`, http.StatusCreated},
		{`{"username":"","password":"pw123"}`, http.StatusBadRequest},
		{`{"username":"taken","password":"pw123"}`, http.StatusConflict},
		{`not json`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		rec := do(t, handler, http.MethodPost, "/v1/auth/register", tc.body, "")
		if rec.Code != tc.want {
			t.Fatalf("register %s: expected %d, got %d body=%s", tc.body, tc.want, rec.Code, rec.Body.String())
		}
	}
	if len(audit.events) != 3 || audit.events[0].outcome != "success" || audit.events[2].outcome != "failed" {
		t.Fatalf("unexpected audit events: %+v", audit.events)
	}

	if rec := do(t, handler, http.MethodGet, "/v1/auth/register", "", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", rec.Code)
	}
}

func TestLoginSetsCookie(t *testing.T) {
	handler := NewHandler(Deps{Auth: fakeAuthService{loginFunc: func(username, password string) (auth.Session, error) {
		if username != "alice" || password != "pw123" {
			return auth.Session{}, auth.ErrInvalidCredentials
		}
		return auth.Session{ID: "s1", Token: "token-123", Username: "alice", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}}})

	rec := do(t, handler, http.MethodPost, "/v1/auth/login", `{"username":"alice","password":"pw123"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if got["token"] != "token-123" || got["session_id"] != "s1" {
		t.Fatalf("unexpected login payload: %v", got)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != sessionCookie || cookies[0].Value != "token-123" || !cookies[0].HttpOnly {
		t.Fatalf("unexpected cookies: %+v", cookies)
	}

	bad := do(t, handler, http.MethodPost, "/v1/auth/login", `{"username":"alice","password":"nope"}`, "")
	if bad.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", bad.Code)
	}
}

func TestAuthMe(t *testing.T) {
	handler := NewHandler(Deps{Auth: fakeAuthService{sessionFunc: aliceSession}})

	rec := do(t, handler, http.MethodGet, "/v1/auth/me", "", "token-123")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: "token-123"})
	cookieRec := httptest.NewRecorder()
	handler.ServeHTTP(cookieRec, req)
	if cookieRec.Code != http.StatusOK {
		t.Fatalf("expected cookie auth to succeed, got %d", cookieRec.Code)
	}

	if rec := do(t, handler, http.MethodGet, "/v1/auth/me", "", "stale"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
	if rec := do(t, handler, http.MethodGet, "/v1/auth/me", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 without token, got %d", rec.Code)
	}
}

func TestAuthLogout(t *testing.T) {
	var loggedOut []string
	handler := NewHandler(Deps{Auth: fakeAuthService{
		sessionFunc: aliceSession,
		logoutFunc: func(token string) error {
			loggedOut = append(loggedOut, token)
			return nil
		},
	}})

	rec := do(t, handler, http.MethodPost, "/v1/auth/logout", "", "token-123")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Fatalf("expected session cookie to be cleared, got %+v", cookies)
	}

	// Unknown tokens log out successfully too.
	if rec := do(t, handler, http.MethodPost, "/v1/auth/logout", "", "unknown"); rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204 for unknown token, got %d", rec.Code)
	}
	if len(loggedOut) != 2 {
		t.Fatalf("expected 2 logout calls, got %d", len(loggedOut))
	}

	// No token at all still clears the cookie without touching the session table.
	rec = do(t, handler, http.MethodPost, "/v1/auth/logout", "", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204 without token, got %d", rec.Code)
	}
	cookies = rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != sessionCookie || cookies[0].MaxAge >= 0 {
		t.Fatalf("expected session cookie to be cleared without token, got %+v", cookies)
	}
	if len(loggedOut) != 2 {
		t.Fatalf("expected no logout call without token, got %d", len(loggedOut))
	}
}

func TestSecureCookiesOption(t *testing.T) {
	login := func(username, password string) (auth.Session, error) {
		return auth.Session{ID: "s1", Token: "token-123", Username: username, ExpiresAt: time.Now().Add(time.Hour)}, nil
	}
	for _, secure := range []bool{false, true} {
		handler := NewHandler(Deps{
			Auth:          fakeAuthService{loginFunc: login, sessionFunc: aliceSession, logoutFunc: func(string) error { return nil }},
			SecureCookies: secure,
		})

		rec := do(t, handler, http.MethodPost, "/v1/auth/login", `{"username":"alice","password":"pw123"}`, "")
		cookies := rec.Result().Cookies()
		if len(cookies) != 1 || cookies[0].Secure != secure {
			t.Fatalf("login cookie Secure=%v expected %v: %+v", len(cookies) == 1 && cookies[0].Secure, secure, cookies)
		}

		rec = do(t, handler, http.MethodPost, "/v1/auth/logout", "", "token-123")
		cookies = rec.Result().Cookies()
		if len(cookies) != 1 || cookies[0].Secure != secure {
			t.Fatalf("logout cookie Secure expected %v: %+v", secure, cookies)
		}
	}
}

func newStoryHandler(audit *fakeAudit, svc fakeStoryService) http.Handler {
	return NewHandler(Deps{
		Auth:    fakeAuthService{sessionFunc: aliceSession},
		Stories: svc,
		Audit:   audit,
	})
}

func TestGenerateStory(t *testing.T) {
	audit := &fakeAudit{}
	handler := newStoryHandler(audit, fakeStoryService{generateFunc: func(token string, req generator.Request) (stories.Story, error) {
		if token != "token-123" {
			return stories.Story{}, stories.ErrUnauthenticated
		}
		switch req.Idea {
		case "":
			return stories.Story{}, stories.ErrInvalidInput
		case "fail":
			return stories.Story{}, fmt.Errorf("%w: %w", stories.ErrGenerationFailed, errors.New("upstream 500"))
		}
		return stories.Story{ID: "abcd", Owner: "alice", Idea: req.Idea, Size: req.Size, Text: "Once upon a time"}, nil
	}})

	rec := do(t, handler, http.MethodPost, "/v1/stories", `{"idea":"a robot learns to cook","genre":"Sci-Fi","tone":"Warm","size":2}`, "token-123")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rec.Code, rec.Body.String())
	}
	var got stories.Story
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode story: %v", err)
	}
	if got.ID != "abcd" || got.Size != 2 || got.Text != "Once upon a time" {
		t.Fatalf("unexpected story: %+v", got)
	}
	if len(audit.events) != 1 || audit.events[0].action != "story.generate" || audit.events[0].actor != "alice" {
		t.Fatalf("unexpected audit events: %+v", audit.events)
	}

	cases := []struct {
		body, token string
		want        int
	}{
		{`{"idea":""}`, "token-123", http.StatusBadRequest},
		{`{"idea":"fail"}`, "token-123", http.StatusBadGateway},
		{`{"idea":"x"}`, "other", http.StatusUnauthorized},
		{`{"idea":"x"}`, "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		if rec := do(t, handler, http.MethodPost, "/v1/stories", tc.body, tc.token); rec.Code != tc.want {
			t.Fatalf("generate %s: expected %d, got %d", tc.body, tc.want, rec.Code)
		}
	}
}

func TestListStories(t *testing.T) {
	items := []stories.Story{{ID: "b", Favorite: true}, {ID: "a"}}
	handler := newStoryHandler(&fakeAudit{}, fakeStoryService{
		listFunc: func(string) ([]stories.Story, error) { return items, nil },
		favoritesFunc: func(string) ([]stories.Story, error) {
			return items[:1], nil
		},
	})

	rec := do(t, handler, http.MethodGet, "/v1/stories", "", "token-123")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var got struct {
		Items []stories.Story `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(got.Items) != 2 || got.Items[0].ID != "b" {
		t.Fatalf("unexpected items: %+v", got.Items)
	}

	rec = do(t, handler, http.MethodGet, "/v1/stories/favorites", "", "token-123")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	got.Items = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode favorites: %v", err)
	}
	if len(got.Items) != 1 || !got.Items[0].Favorite {
		t.Fatalf("unexpected favorites: %+v", got.Items)
	}

	if rec := do(t, handler, http.MethodPut, "/v1/stories", "", "token-123"); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", rec.Code)
	}
}

func TestToggleFavoriteAndDelete(t *testing.T) {
	audit := &fakeAudit{}
	handler := newStoryHandler(audit, fakeStoryService{
		toggleFunc: func(_, id string) (stories.Story, error) {
			if id != "abcd" {
				return stories.Story{}, stories.ErrNotFound
			}
			return stories.Story{ID: id, Owner: "alice", Favorite: true}, nil
		},
		deleteFunc: func(_, id string) error {
			if id != "abcd" {
				return stories.ErrNotFound
			}
			return nil
		},
	})

	if rec := do(t, handler, http.MethodPost, "/v1/stories/abcd/favorite", "", "token-123"); rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if rec := do(t, handler, http.MethodPost, "/v1/stories/zzzz/favorite", "", "token-123"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
	if rec := do(t, handler, http.MethodDelete, "/v1/stories/abcd", "", "token-123"); rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	if rec := do(t, handler, http.MethodDelete, "/v1/stories/zzzz", "", "token-123"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
	if rec := do(t, handler, http.MethodGet, "/v1/stories/abcd", "", "token-123"); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", rec.Code)
	}
	if rec := do(t, handler, http.MethodPost, "/v1/stories/abcd/share", "", "token-123"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for unknown action, got %d", rec.Code)
	}

	want := []recordedEvent{
		{"alice", "story.favorite", "abcd", "success"},
		{"alice", "story.delete", "abcd", "success"},
		{"alice", "story.delete", "zzzz", "failed"},
	}
	if len(audit.events) != len(want) {
		t.Fatalf("expected %d audit events, got %+v", len(want), audit.events)
	}
	for i := range want {
		if audit.events[i] != want[i] {
			t.Fatalf("audit event %d: expected %+v, got %+v", i, want[i], audit.events[i])
		}
	}
}

func TestProfile(t *testing.T) {
	handler := newStoryHandler(&fakeAudit{}, fakeStoryService{profileFunc: func(token string) (stories.Profile, error) {
		if token != "token-123" {
			return stories.Profile{}, stories.ErrUnauthenticated
		}
		return stories.Profile{Username: "alice", Stats: stories.Stats{Stories: 3, Favorites: 1}}, nil
	}})

	rec := do(t, handler, http.MethodGet, "/v1/profile", "", "token-123")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if got["username"] != "alice" || got["story_count"] != float64(3) || got["favorite_count"] != float64(1) {
		t.Fatalf("unexpected profile payload: %v", got)
	}

	if rec := do(t, handler, http.MethodGet, "/v1/profile", "", "stale"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestServicesUnavailable(t *testing.T) {
	handler := NewHandler(Deps{})
	for _, path := range []string{"/v1/auth/me", "/v1/stories", "/v1/profile"} {
		if rec := do(t, handler, http.MethodGet, path, "", "token-123"); rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s: expected status 503, got %d", path, rec.Code)
		}
	}
}

func TestExtractBearerToken(t *testing.T) {
	if tok, err := extractBearerToken("Bearer abc"); err != nil || tok != "abc" {
		t.Fatalf("expected abc, got %q err=%v", tok, err)
	}
	for _, bad := range []string{"", "Bearer", "Basic abc", "Bearer   "} {
		if _, err := extractBearerToken(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
