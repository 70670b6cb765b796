package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiyo123456/Tatemoku-management/internal/application"
	"github.com/kiyo123456/Tatemoku-management/internal/config"
	httptransport "github.com/kiyo123456/Tatemoku-management/internal/http"
	"github.com/kiyo123456/Tatemoku-management/internal/scheduler"
)

const testSecret = "test-secret"

func testConfig(t *testing.T, calendarURL string) config.Config {
	t.Helper()
	jst := time.FixedZone("JST", 9*60*60)
	return config.Config{
		HTTPPort:        0,
		ShutdownTimeout: time.Second,
		SQLitePath:      filepath.Join(t.TempDir(), "tatemoku.db"),
		JWTSecret:       testSecret,
		Calendar:        config.CalendarConfig{BaseURL: calendarURL, Timeout: 2 * time.Second, RequireToken: true},
		Search: config.SearchConfig{
			Location:         jst,
			BusinessStart:    scheduler.NewClockTime(9, 0),
			BusinessEnd:      scheduler.NewClockTime(18, 0),
			ExcludedWeekdays: []time.Weekday{time.Saturday, time.Sunday},
			MinParticipants:  2,
			TopN:             3,
		},
	}
}

func newTestService(t *testing.T, calendarURL string) *service {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	svc, err := newService(context.Background(), testConfig(t, calendarURL), logger)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

func bearer(t *testing.T, principal application.Principal) string {
	t.Helper()
	token, err := httptransport.NewTokenVerifier(testSecret).Issue(principal, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func send(t *testing.T, h http.Handler, method, path, auth, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestService_HealthAndAuthentication(t *testing.T) {
	svc := newTestService(t, "http://127.0.0.1:0")

	rec := send(t, svc.handler, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = send(t, svc.handler, http.MethodPost, "/participants", "", `{"displayName":"Hanako","contactKey":"hanako@example.com"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	admin := bearer(t, application.Principal{UserID: "admin", IsAdmin: true})
	rec = send(t, svc.handler, http.MethodPost, "/participants", admin, `{"displayName":"Hanako","contactKey":"Hanako@Example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var participant struct {
		ID         string `json:"id"`
		ContactKey string `json:"contactKey"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&participant))
	assert.NotEmpty(t, participant.ID)
	assert.Equal(t, "hanako@example.com", participant.ContactKey)

	member := bearer(t, application.Principal{UserID: "member"})
	rec = send(t, svc.handler, http.MethodGet, "/changelog", member, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = send(t, svc.handler, http.MethodGet, "/changelog?action=create_group", admin, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestService_AvailabilitySearchAgainstCalendar(t *testing.T) {
	var gotAuth string
	calendarServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"calendars":{
			"a@example.com":{"busy":[]},
			"b@example.com":{"busy":[{"start":"2025-01-06T01:00:00Z","end":"2025-01-06T02:00:00Z"}]}
		}}`)
	}))
	t.Cleanup(calendarServer.Close)

	svc := newTestService(t, calendarServer.URL)
	user := bearer(t, application.Principal{UserID: "lead"})

	req := httptest.NewRequest(http.MethodPost, "/availability/search", strings.NewReader(
		`{"userEmails":["a@example.com","b@example.com"],"timeMin":"2025-01-06T09:00:00+09:00","timeMax":"2025-01-06T13:00:00+09:00","duration":60}`))
	req.Header.Set("Authorization", user)
	req.Header.Set("X-Google-Token", "google-access")
	rec := httptest.NewRecorder()
	svc.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Bearer google-access", gotAuth)

	var body struct {
		Data struct {
			TotalSlotsFound int `json:"totalSlotsFound"`
			BestSlots       []struct {
				Start            string `json:"start"`
				ParticipantCount int    `json:"participantCount"`
			} `json:"bestSlots"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	// b is busy 10:00-11:00 JST: 09:00, 11:00, 11:30 and 12:00 starts have both participants.
	assert.Equal(t, 4, body.Data.TotalSlotsFound)
	require.Len(t, body.Data.BestSlots, 3)
	for _, slot := range body.Data.BestSlots {
		assert.Equal(t, 2, slot.ParticipantCount)
	}
}

func TestRun_ConfigurationErrors(t *testing.T) {
	t.Setenv("TATEMOKU_JWT_SECRET", "secret")

	err := run(context.Background(), []string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "設定ファイルを読み込めません")

	err = run(context.Background(), []string{"--unknown"}, io.Discard)
	assert.Error(t, err)
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tatemoku.yaml")
	content := "http:\n  port: 18089\nsqlite:\n  path: " + filepath.Join(dir, "run.db") + "\njwt:\n  secret: secret\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, []string{"--config", path}, io.Discard) }()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
}
