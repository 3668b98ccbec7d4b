package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/greenloop-labs/greenloop/backend/internal/auth"
	"github.com/greenloop-labs/greenloop/backend/internal/carbon"
	"github.com/greenloop-labs/greenloop/backend/internal/challenges"
	"github.com/greenloop-labs/greenloop/backend/internal/credits"
	"github.com/greenloop-labs/greenloop/backend/internal/database"
	"github.com/greenloop-labs/greenloop/backend/internal/garden"
	"github.com/greenloop-labs/greenloop/backend/internal/groups"
	"github.com/greenloop-labs/greenloop/backend/internal/mobility"
	"github.com/greenloop-labs/greenloop/backend/internal/sessions"
	"github.com/greenloop-labs/greenloop/backend/internal/users"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	handler, err := NewHTTPHandler(newTestDependencies(t))
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return handler
}

func newTestDependencies(t *testing.T) Dependencies {
	t.Helper()

	db, err := database.OpenSQLite("file::memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := database.Seed(db, time.Now().UTC()); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	tokenIssuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "greenloop-auth",
		Audience:      "greenloop-api",
	})

	usersService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("users service: %v", err)
	}
	creditsService, err := credits.NewService(credits.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("credits service: %v", err)
	}
	factorTable, err := carbon.NewFactorTable(carbon.FactorTableConfig{Database: db, CreditPerGram: 0.1})
	if err != nil {
		t.Fatalf("factor table: %v", err)
	}

	dispatcher := NewFeedDispatcher(nil, nil)
	aggregator := mobility.NewAggregator()

	challengeService, err := challenges.NewService(challenges.ServiceConfig{
		Database: db,
		Trips:    aggregator,
		Events:   dispatcher,
	})
	if err != nil {
		t.Fatalf("challenge service: %v", err)
	}
	groupService, err := groups.NewService(groups.ServiceConfig{Database: db, Trips: aggregator})
	if err != nil {
		t.Fatalf("group service: %v", err)
	}
	groupChallengeService, err := groups.NewChallengeService(groups.ChallengeServiceConfig{
		Database: db,
		Groups:   groupService,
		Events:   dispatcher,
	})
	if err != nil {
		t.Fatalf("group challenge service: %v", err)
	}
	mobilityService, err := mobility.NewService(mobility.ServiceConfig{
		Database:      db,
		Factors:       factorTable,
		Ledger:        creditsService,
		Challenges:    challengeService,
		Contributions: groupChallengeService,
		Publisher:     dispatcher,
	})
	if err != nil {
		t.Fatalf("mobility service: %v", err)
	}
	gardenService, err := garden.NewService(garden.ServiceConfig{
		Database:     db,
		Ledger:       creditsService,
		WateringCost: 10,
		Publisher:    dispatcher,
	})
	if err != nil {
		t.Fatalf("garden service: %v", err)
	}

	return Dependencies{
		TokenIssuer:     tokenIssuer,
		Users:           usersService,
		Mobility:        mobilityService,
		Credits:         creditsService,
		Garden:          gardenService,
		Challenges:      challengeService,
		Groups:          groupService,
		GroupChallenges: groupChallengeService,
		Dispatcher:      dispatcher,
	}
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var decoded map[string]interface{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return decoded
}

func registerAndLogin(t *testing.T, handler http.Handler, username string) string {
	t.Helper()
	response := doJSON(t, handler, http.MethodPost, "/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "s3cret",
	})
	if response.Code != http.StatusCreated {
		t.Fatalf("register returned %d: %s", response.Code, response.Body.String())
	}

	response = doJSON(t, handler, http.MethodPost, "/auth/login", "", map[string]string{
		"username": username,
		"password": "s3cret",
	})
	if response.Code != http.StatusOK {
		t.Fatalf("login returned %d: %s", response.Code, response.Body.String())
	}
	token, _ := decodeBody(t, response)["access_token"].(string)
	if token == "" {
		t.Fatalf("expected an access token")
	}
	return token
}

func TestRegisterLoginAndMe(t *testing.T) {
	handler := newTestHandler(t)
	token := registerAndLogin(t, handler, "alice")

	response := doJSON(t, handler, http.MethodGet, "/me", token, nil)
	if response.Code != http.StatusOK {
		t.Fatalf("me returned %d: %s", response.Code, response.Body.String())
	}
	body := decodeBody(t, response)
	if body["username"] != "alice" {
		t.Fatalf("expected alice, got %v", body["username"])
	}
}

func TestRegisterDuplicateConflicts(t *testing.T) {
	handler := newTestHandler(t)
	registerAndLogin(t, handler, "alice")

	response := doJSON(t, handler, http.MethodPost, "/auth/register", "", map[string]string{
		"username": "alice",
		"password": "other",
	})
	if response.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a duplicate username, got %d", response.Code)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	handler := newTestHandler(t)
	registerAndLogin(t, handler, "alice")

	response := doJSON(t, handler, http.MethodPost, "/auth/login", "", map[string]string{
		"username": "alice",
		"password": "wrong",
	})
	if response.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", response.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	handler := newTestHandler(t)

	for _, path := range []string{"/me", "/credits/balance", "/garden", "/challenges"} {
		response := doJSON(t, handler, http.MethodGet, path, "", nil)
		if response.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for %s without a token, got %d", path, response.Code)
		}
	}

	response := doJSON(t, handler, http.MethodGet, "/me", "not-a-token", nil)
	if response.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bogus token, got %d", response.Code)
	}
}

func TestTripEarnsCreditsAndWatersGarden(t *testing.T) {
	handler := newTestHandler(t)
	token := registerAndLogin(t, handler, "alice")

	start := time.Date(2025, 6, 15, 8, 0, 0, 0, time.UTC)
	response := doJSON(t, handler, http.MethodPost, "/mobility/logs", token, map[string]interface{}{
		"mode":        "WALK",
		"distance_km": 5,
		"started_at":  start,
		"ended_at":    start.Add(time.Hour),
	})
	if response.Code != http.StatusCreated {
		t.Fatalf("log trip returned %d: %s", response.Code, response.Body.String())
	}
	trip := decodeBody(t, response)
	if trip["co2_saved_g"].(float64) != 850 {
		t.Fatalf("expected 850 g saved, got %v", trip["co2_saved_g"])
	}
	if trip["points_earned"].(float64) != 85 {
		t.Fatalf("expected 85 points, got %v", trip["points_earned"])
	}

	response = doJSON(t, handler, http.MethodGet, "/credits/balance", token, nil)
	if response.Code != http.StatusOK {
		t.Fatalf("balance returned %d", response.Code)
	}
	balance := decodeBody(t, response)
	if balance["total_points"].(float64) != 85 {
		t.Fatalf("expected balance 85, got %v", balance["total_points"])
	}

	response = doJSON(t, handler, http.MethodPost, "/garden/water", token, nil)
	if response.Code != http.StatusOK {
		t.Fatalf("water returned %d: %s", response.Code, response.Body.String())
	}
	outcome := decodeBody(t, response)
	if outcome["balance"].(float64) != 75 {
		t.Fatalf("expected balance 75 after watering, got %v", outcome["balance"])
	}
}

func TestWaterWithoutBalanceConflicts(t *testing.T) {
	handler := newTestHandler(t)
	token := registerAndLogin(t, handler, "alice")

	response := doJSON(t, handler, http.MethodPost, "/garden/water", token, nil)
	if response.Code != http.StatusConflict {
		t.Fatalf("expected 409 for an unaffordable watering, got %d: %s", response.Code, response.Body.String())
	}
}

func TestChallengeJoinFlow(t *testing.T) {
	handler := newTestHandler(t)
	token := registerAndLogin(t, handler, "alice")

	response := doJSON(t, handler, http.MethodGet, "/challenges", token, nil)
	if response.Code != http.StatusOK {
		t.Fatalf("list returned %d", response.Code)
	}
	listed := decodeBody(t, response)["challenges"].([]interface{})
	if len(listed) == 0 {
		t.Fatalf("expected seeded challenges")
	}
	first := listed[0].(map[string]interface{})
	challengeID := uint64(first["challenge_id"].(float64))

	joinPath := fmt.Sprintf("/challenges/%d/join", challengeID)
	if response := doJSON(t, handler, http.MethodPost, joinPath, token, nil); response.Code != http.StatusOK {
		t.Fatalf("join returned %d: %s", response.Code, response.Body.String())
	}
	if response := doJSON(t, handler, http.MethodPost, joinPath, token, nil); response.Code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate join, got %d", response.Code)
	}
	if response := doJSON(t, handler, http.MethodPost, "/challenges/99999/join", token, nil); response.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a missing challenge, got %d", response.Code)
	}
}

func TestGroupLifecycleOverHTTP(t *testing.T) {
	handler := newTestHandler(t)
	aliceToken := registerAndLogin(t, handler, "alice")
	bobToken := registerAndLogin(t, handler, "bob")

	response := doJSON(t, handler, http.MethodPost, "/groups", aliceToken, map[string]interface{}{
		"name":      "Green Team",
		"usernames": []string{"bob"},
	})
	if response.Code != http.StatusCreated {
		t.Fatalf("create group returned %d: %s", response.Code, response.Body.String())
	}
	created := decodeBody(t, response)
	groupID := uint64(created["group"].(map[string]interface{})["ID"].(float64))

	response = doJSON(t, handler, http.MethodGet, fmt.Sprintf("/groups/%d", groupID), bobToken, nil)
	if response.Code != http.StatusOK {
		t.Fatalf("bob could not read his group: %d", response.Code)
	}

	// alice is the leader and cannot leave while bob remains.
	response = doJSON(t, handler, http.MethodPost, fmt.Sprintf("/groups/%d/leave", groupID), aliceToken, nil)
	if response.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a leader leaving early, got %d", response.Code)
	}

	// bob cannot delete the group.
	response = doJSON(t, handler, http.MethodDelete, fmt.Sprintf("/groups/%d", groupID), bobToken, nil)
	if response.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a member delete, got %d", response.Code)
	}
}

// fakeSessionStore keeps sessions in a map so the session endpoints can be
// exercised without redis.
type fakeSessionStore struct {
	sessions map[string]*sessions.Session
	nextID   int
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]*sessions.Session)}
}

func (f *fakeSessionStore) Create(_ context.Context, userID uint64, username, role string) (*sessions.Session, error) {
	f.nextID++
	session := &sessions.Session{
		ID:        fmt.Sprintf("session-%d", f.nextID),
		UserID:    userID,
		Username:  username,
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}
	f.sessions[session.ID] = session
	return session, nil
}

func (f *fakeSessionStore) Get(_ context.Context, sessionID string) (*sessions.Session, error) {
	session, ok := f.sessions[sessionID]
	if !ok {
		return nil, sessions.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (f *fakeSessionStore) Update(_ context.Context, session *sessions.Session) error {
	if _, ok := f.sessions[session.ID]; !ok {
		return sessions.ErrNotFound
	}
	copied := *session
	f.sessions[session.ID] = &copied
	return nil
}

func (f *fakeSessionStore) Extend(_ context.Context, sessionID string) error {
	if _, ok := f.sessions[sessionID]; !ok {
		return sessions.ErrNotFound
	}
	return nil
}

func (f *fakeSessionStore) Delete(_ context.Context, sessionID string) error {
	delete(f.sessions, sessionID)
	return nil
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	deps := newTestDependencies(t)
	deps.Sessions = newFakeSessionStore()
	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	aliceToken := registerAndLogin(t, handler, "alice")
	bobToken := registerAndLogin(t, handler, "bob")

	response := doJSON(t, handler, http.MethodPost, "/sessions", aliceToken, nil)
	if response.Code != http.StatusCreated {
		t.Fatalf("create session returned %d: %s", response.Code, response.Body.String())
	}
	sessionID, _ := decodeBody(t, response)["id"].(string)
	if sessionID == "" {
		t.Fatalf("expected a session id")
	}
	sessionPath := "/sessions/" + sessionID

	response = doJSON(t, handler, http.MethodGet, sessionPath, aliceToken, nil)
	if response.Code != http.StatusOK {
		t.Fatalf("get session returned %d", response.Code)
	}
	if decodeBody(t, response)["username"] != "alice" {
		t.Fatalf("expected alice's session")
	}

	// Another user's session reads as missing.
	if response := doJSON(t, handler, http.MethodGet, sessionPath, bobToken, nil); response.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a foreign session, got %d", response.Code)
	}

	response = doJSON(t, handler, http.MethodPut, sessionPath, aliceToken, map[string]interface{}{
		"data": map[string]string{"theme": "dark"},
	})
	if response.Code != http.StatusOK {
		t.Fatalf("update session returned %d: %s", response.Code, response.Body.String())
	}
	updated := decodeBody(t, response)["data"].(map[string]interface{})
	if updated["theme"] != "dark" {
		t.Fatalf("expected the stored data back, got %v", updated)
	}

	if response := doJSON(t, handler, http.MethodPost, sessionPath+"/extend", aliceToken, nil); response.Code != http.StatusOK {
		t.Fatalf("extend returned %d", response.Code)
	}
	if response := doJSON(t, handler, http.MethodDelete, sessionPath, aliceToken, nil); response.Code != http.StatusOK {
		t.Fatalf("delete returned %d", response.Code)
	}
	if response := doJSON(t, handler, http.MethodGet, sessionPath, aliceToken, nil); response.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", response.Code)
	}
}

func TestCreditEarnAndSpendEndpoints(t *testing.T) {
	handler := newTestHandler(t)
	token := registerAndLogin(t, handler, "alice")

	response := doJSON(t, handler, http.MethodPost, "/credits/earn", token, map[string]interface{}{
		"points": 50,
		"reason": "Recycling drive",
	})
	if response.Code != http.StatusCreated {
		t.Fatalf("earn returned %d: %s", response.Code, response.Body.String())
	}

	response = doJSON(t, handler, http.MethodPost, "/credits/spend", token, map[string]interface{}{
		"points": 20,
		"reason": "Sticker pack",
	})
	if response.Code != http.StatusCreated {
		t.Fatalf("spend returned %d: %s", response.Code, response.Body.String())
	}
	if decodeBody(t, response)["points"].(float64) != -20 {
		t.Fatalf("expected a -20 ledger entry")
	}

	response = doJSON(t, handler, http.MethodGet, "/credits/balance", token, nil)
	if decodeBody(t, response)["total_points"].(float64) != 30 {
		t.Fatalf("expected balance 30 after earn and spend")
	}

	response = doJSON(t, handler, http.MethodPost, "/credits/spend", token, map[string]interface{}{
		"points": 100,
		"reason": "Too much",
	})
	if response.Code != http.StatusConflict {
		t.Fatalf("expected 409 for an overdraw, got %d", response.Code)
	}

	response = doJSON(t, handler, http.MethodPost, "/credits/earn", token, map[string]interface{}{
		"points": -5,
		"reason": "Nope",
	})
	if response.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a non-positive earn, got %d", response.Code)
	}
}

func TestGlobalGroupRankingOverHTTP(t *testing.T) {
	handler := newTestHandler(t)
	token := registerAndLogin(t, handler, "alice")

	response := doJSON(t, handler, http.MethodPost, "/groups", token, map[string]interface{}{
		"name": "Green Team",
	})
	if response.Code != http.StatusCreated {
		t.Fatalf("create group returned %d: %s", response.Code, response.Body.String())
	}

	response = doJSON(t, handler, http.MethodGet, "/groups/ranking", token, nil)
	if response.Code != http.StatusOK {
		t.Fatalf("global ranking returned %d: %s", response.Code, response.Body.String())
	}
	ranking := decodeBody(t, response)["ranking"].([]interface{})
	if len(ranking) != 1 {
		t.Fatalf("expected one ranked group, got %d", len(ranking))
	}
	row := ranking[0].(map[string]interface{})
	if row["name"] != "Green Team" || row["rank"].(float64) != 1 {
		t.Fatalf("unexpected ranking row: %+v", row)
	}
}

func TestJoinClosedChallengeStatusCodes(t *testing.T) {
	deps := newTestDependencies(t)
	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	ctx := context.Background()

	aliceToken := registerAndLogin(t, handler, "alice")
	bobToken := registerAndLogin(t, handler, "bob")

	// A cancelled personal challenge rejects the join as a bad request.
	now := time.Now().UTC()
	cancelled, err := deps.Challenges.Create(ctx, challenges.CreateInput{
		Title:           "Short-lived sprint",
		GoalType:        challenges.GoalCO2Saved,
		GoalTargetValue: 1000,
		StartAt:         now,
		EndAt:           now.Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("create challenge failed: %v", err)
	}
	if err := deps.Challenges.Cancel(ctx, cancelled.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	response := doJSON(t, handler, http.MethodPost, fmt.Sprintf("/challenges/%d/join", cancelled.ID), aliceToken, nil)
	if response.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 joining a cancelled challenge, got %d: %s", response.Code, response.Body.String())
	}

	// A completed group challenge reads as missing to joiners.
	response = doJSON(t, handler, http.MethodPost, "/groups", aliceToken, map[string]interface{}{
		"name":      "Green Team",
		"usernames": []string{"bob"},
	})
	if response.Code != http.StatusCreated {
		t.Fatalf("create group returned %d: %s", response.Code, response.Body.String())
	}
	created := decodeBody(t, response)
	groupID := uint64(created["group"].(map[string]interface{})["ID"].(float64))

	var leaderID uint64
	for _, raw := range created["members"].([]interface{}) {
		member := raw.(map[string]interface{})
		if member["role"] == "LEADER" {
			leaderID = uint64(member["user_id"].(float64))
		}
	}
	if leaderID == 0 {
		t.Fatalf("expected a leader in the created group")
	}

	groupChallenge, err := deps.GroupChallenges.CreateChallenge(ctx, leaderID, groupID, groups.ChallengeInput{
		Title:           "Team sprint",
		GoalType:        challenges.GoalCO2Saved,
		GoalTargetValue: 1000,
		StartAt:         now.Add(-2 * time.Hour),
		EndAt:           now.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("create group challenge failed: %v", err)
	}
	if err := deps.GroupChallenges.AdvanceStatuses(ctx, now); err != nil {
		t.Fatalf("status sweep failed: %v", err)
	}

	response = doJSON(t, handler, http.MethodPost, fmt.Sprintf("/group-challenges/%d/join", groupChallenge.ID), bobToken, nil)
	if response.Code != http.StatusNotFound {
		t.Fatalf("expected 404 joining a completed group challenge, got %d: %s", response.Code, response.Body.String())
	}
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	handler := newTestHandler(t)
	token := registerAndLogin(t, handler, "alice")

	response := doJSON(t, handler, http.MethodPost, "/admin/credits/adjust", token, map[string]interface{}{
		"user_id": 1,
		"points":  100,
		"reason":  "test",
	})
	if response.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a non-admin, got %d", response.Code)
	}
}
