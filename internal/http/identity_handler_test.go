package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"identity-bridge/internal/domain"
	"identity-bridge/internal/idp"
	"identity-bridge/internal/repository"
	"identity-bridge/internal/service"
)

type mockProfileRepo struct {
	profiles      map[string]domain.Profile
	byExternal    map[string]string
	onboardings   map[string]domain.Onboarding
	onboardingErr error
}

func newMockProfileRepo() *mockProfileRepo {
	return &mockProfileRepo{
		profiles:    make(map[string]domain.Profile),
		byExternal:  make(map[string]string),
		onboardings: make(map[string]domain.Onboarding),
	}
}

func (m *mockProfileRepo) GetByExternalID(_ context.Context, externalID string) (domain.Profile, error) {
	id, ok := m.byExternal[externalID]
	if !ok {
		return domain.Profile{}, pgx.ErrNoRows
	}
	p := m.profiles[id]
	if ob, ok := m.onboardings[id]; ok {
		obCopy := ob
		p.Onboarding = &obCopy
	}
	return p, nil
}

func (m *mockProfileRepo) Insert(_ context.Context, profile domain.Profile) error {
	if _, ok := m.byExternal[profile.ExternalID]; ok {
		return repository.ErrDuplicateExternalID
	}
	profile.Onboarding = nil
	m.profiles[profile.InternalID] = profile
	m.byExternal[profile.ExternalID] = profile.InternalID
	return nil
}

func (m *mockProfileRepo) InsertOnboarding(_ context.Context, internalID string, onboarding domain.Onboarding) error {
	if m.onboardingErr != nil {
		return m.onboardingErr
	}
	m.onboardings[internalID] = onboarding
	return nil
}

func (m *mockProfileRepo) DeleteByInternalID(_ context.Context, internalID string) error {
	p, ok := m.profiles[internalID]
	if ok {
		delete(m.byExternal, p.ExternalID)
	}
	delete(m.profiles, internalID)
	delete(m.onboardings, internalID)
	return nil
}

func (m *mockProfileRepo) TouchLastLogin(_ context.Context, internalID string, at time.Time) error {
	p, ok := m.profiles[internalID]
	if !ok {
		return pgx.ErrNoRows
	}
	p.LastLoginAt = at
	m.profiles[internalID] = p
	return nil
}

func (m *mockProfileRepo) UpdateProfile(_ context.Context, internalID, displayName, avatarURL string) error {
	p, ok := m.profiles[internalID]
	if !ok {
		return pgx.ErrNoRows
	}
	p.DisplayName = displayName
	p.AvatarURL = avatarURL
	m.profiles[internalID] = p
	return nil
}

func (m *mockProfileRepo) UpsertOnboarding(_ context.Context, internalID string, onboarding domain.Onboarding) error {
	m.onboardings[internalID] = onboarding
	return nil
}

func (m *mockProfileRepo) DeleteByExternalID(_ context.Context, externalID string) error {
	id, ok := m.byExternal[externalID]
	if !ok {
		return pgx.ErrNoRows
	}
	delete(m.byExternal, externalID)
	delete(m.profiles, id)
	delete(m.onboardings, id)
	return nil
}

func (m *mockProfileRepo) DeleteOrphans(_ context.Context, _ time.Duration) (int64, error) {
	return 0, nil
}

type stubVerifier struct {
	claims domain.Claims
	err    error
}

func (s *stubVerifier) Verify(_ context.Context, _ string) (domain.Claims, error) {
	if s.err != nil {
		return domain.Claims{}, s.err
	}
	return s.claims, nil
}

func testClaims() domain.Claims {
	return domain.Claims{
		ExternalID:    "abc123",
		Email:         "a@x.com",
		DisplayName:   "Ana",
		EmailVerified: true,
		SignInMethod:  "google.com",
	}
}

func newTestRouter(repo *mockProfileRepo, verifier idp.Verifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	identitySvc := service.NewIdentityService(logger, repo)
	identityH := NewIdentityHandler(logger, identitySvc)
	healthH := NewHealthHandler(logger, map[string]CheckFunc{
		"database":          func(context.Context) error { return nil },
		"identity_provider": func(context.Context) error { return errors.New("down") },
	})
	return NewRouter(logger, identityH, healthH, RequireAuth(logger, verifier))
}

func doRequest(r *gin.Engine, method, path string, body any, withToken bool) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if withToken {
		req.Header.Set("Authorization", "Bearer test-token")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestVerifyUser_NewThenExisting(t *testing.T) {
	repo := newMockProfileRepo()
	router := newTestRouter(repo, &stubVerifier{claims: testClaims()})

	w := doRequest(router, http.MethodPost, "/auth/verify-user", nil, true)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var first struct {
		Success   bool           `json:"success"`
		IsNewUser bool           `json:"is_new_user"`
		User      domain.Profile `json:"user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &first); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !first.Success || !first.IsNewUser || first.User.Email != "a@x.com" {
		t.Fatalf("unexpected response: %+v", first)
	}

	w = doRequest(router, http.MethodPost, "/auth/verify-user", nil, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for existing user, got %d", w.Code)
	}
	var second struct {
		IsNewUser bool           `json:"is_new_user"`
		User      domain.Profile `json:"user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &second); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if second.IsNewUser {
		t.Fatalf("expected is_new_user = false")
	}
	if second.User.InternalID != first.User.InternalID {
		t.Fatalf("internal id changed across logins")
	}
}

func TestVerifyUser_OverridesApplyOnCreate(t *testing.T) {
	repo := newMockProfileRepo()
	router := newTestRouter(repo, &stubVerifier{claims: testClaims()})

	body := map[string]string{"name": "Override", "profile_picture": "https://cdn.example.com/o.png"}
	w := doRequest(router, http.MethodPost, "/auth/verify-user", body, true)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	var resp struct {
		User domain.Profile `json:"user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.User.DisplayName != "Override" || resp.User.AvatarURL != "https://cdn.example.com/o.png" {
		t.Fatalf("overrides not applied: %+v", resp.User)
	}
}

func TestVerifyUser_MissingEmail(t *testing.T) {
	repo := newMockProfileRepo()
	claims := testClaims()
	claims.Email = ""
	router := newTestRouter(repo, &stubVerifier{claims: claims})

	w := doRequest(router, http.MethodPost, "/auth/verify-user", nil, true)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestVerifyUser_StoreFailure(t *testing.T) {
	repo := newMockProfileRepo()
	repo.onboardingErr = errors.New("insert boom")
	router := newTestRouter(repo, &stubVerifier{claims: testClaims()})

	w := doRequest(router, http.MethodPost, "/auth/verify-user", nil, true)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if len(repo.profiles) != 0 {
		t.Fatalf("partial create must be compensated")
	}
}

func TestAuth_MissingToken(t *testing.T) {
	router := newTestRouter(newMockProfileRepo(), &stubVerifier{claims: testClaims()})

	w := doRequest(router, http.MethodPost, "/auth/verify-user", nil, false)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestAuth_ExpiredToken(t *testing.T) {
	router := newTestRouter(newMockProfileRepo(), &stubVerifier{err: idp.ErrTokenExpired})

	w := doRequest(router, http.MethodGet, "/auth/me", nil, true)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("token expired")) {
		t.Fatalf("expected expired reason, got %s", w.Body.String())
	}
}

func TestAuth_InvalidToken(t *testing.T) {
	router := newTestRouter(newMockProfileRepo(), &stubVerifier{err: idp.ErrTokenInvalid})

	w := doRequest(router, http.MethodGet, "/auth/me", nil, true)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("invalid token")) {
		t.Fatalf("expected invalid reason, got %s", w.Body.String())
	}
}

func TestAuth_ProviderUnavailable(t *testing.T) {
	router := newTestRouter(newMockProfileRepo(), &stubVerifier{err: idp.ErrProviderUnavailable})

	w := doRequest(router, http.MethodGet, "/auth/me", nil, true)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestMe_NotFound(t *testing.T) {
	router := newTestRouter(newMockProfileRepo(), &stubVerifier{claims: testClaims()})

	w := doRequest(router, http.MethodGet, "/auth/me", nil, true)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestUpdateOnboarding(t *testing.T) {
	repo := newMockProfileRepo()
	router := newTestRouter(repo, &stubVerifier{claims: testClaims()})

	if w := doRequest(router, http.MethodPost, "/auth/verify-user", nil, true); w.Code != http.StatusCreated {
		t.Fatalf("setup create failed: %d", w.Code)
	}

	body := map[string]any{"tags": []string{"backend", "golang"}, "onboarding_completed": true}
	w := doRequest(router, http.MethodPut, "/auth/update-onboarding", body, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		User domain.Profile `json:"user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.User.Onboarding == nil || !resp.User.Onboarding.Completed || len(resp.User.Onboarding.Tags) != 2 {
		t.Fatalf("onboarding not updated: %+v", resp.User.Onboarding)
	}
	if resp.User.Email != "a@x.com" {
		t.Fatalf("profile fields mutated: %+v", resp.User)
	}
}

func TestUpdateOnboarding_NotFound(t *testing.T) {
	router := newTestRouter(newMockProfileRepo(), &stubVerifier{claims: testClaims()})

	body := map[string]any{"onboarding_completed": true}
	w := doRequest(router, http.MethodPut, "/auth/update-onboarding", body, true)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestUpdateProfile_Partial(t *testing.T) {
	repo := newMockProfileRepo()
	router := newTestRouter(repo, &stubVerifier{claims: testClaims()})

	if w := doRequest(router, http.MethodPost, "/auth/verify-user", nil, true); w.Code != http.StatusCreated {
		t.Fatalf("setup create failed: %d", w.Code)
	}

	body := map[string]string{"name": "Renamed"}
	w := doRequest(router, http.MethodPut, "/auth/profile", body, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		User domain.Profile `json:"user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.User.DisplayName != "Renamed" {
		t.Fatalf("name not updated: %+v", resp.User)
	}
	if resp.User.Email != "a@x.com" {
		t.Fatalf("email should stay untouched: %+v", resp.User)
	}
}

func TestDeleteProfile(t *testing.T) {
	repo := newMockProfileRepo()
	router := newTestRouter(repo, &stubVerifier{claims: testClaims()})

	if w := doRequest(router, http.MethodPost, "/auth/verify-user", nil, true); w.Code != http.StatusCreated {
		t.Fatalf("setup create failed: %d", w.Code)
	}

	w := doRequest(router, http.MethodDelete, "/auth/profile", nil, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	if w := doRequest(router, http.MethodGet, "/auth/me", nil, true); w.Code != http.StatusNotFound {
		t.Fatalf("profile should be gone, got %d", w.Code)
	}

	if w := doRequest(router, http.MethodDelete, "/auth/profile", nil, true); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", w.Code)
	}
}

func TestHealth_NoAuthRequired(t *testing.T) {
	router := newTestRouter(newMockProfileRepo(), &stubVerifier{err: idp.ErrTokenInvalid})

	w := doRequest(router, http.MethodGet, "/health", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Status   string            `json:"status"`
		Services map[string]string `json:"services"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Fatalf("unexpected status: %q", resp.Status)
	}
	if resp.Services["database"] != "connected" || resp.Services["identity_provider"] != "unreachable" {
		t.Fatalf("unexpected services: %+v", resp.Services)
	}
}

func TestRoot(t *testing.T) {
	router := newTestRouter(newMockProfileRepo(), &stubVerifier{claims: testClaims()})

	w := doRequest(router, http.MethodGet, "/", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
