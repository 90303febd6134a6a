package handlers_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/ranked1v1/matchcore/compat"
	"github.com/ranked1v1/matchcore/engine"
	"github.com/ranked1v1/matchcore/handlers"
	"github.com/ranked1v1/matchcore/metrics"
	"github.com/ranked1v1/matchcore/models"
	"github.com/ranked1v1/matchcore/rating"
	"github.com/ranked1v1/matchcore/routes"
	"github.com/ranked1v1/matchcore/schedule"
	"github.com/ranked1v1/matchcore/session"
	"github.com/ranked1v1/matchcore/store"
)

func newTestServer(t *testing.T, timeout, poll time.Duration) (*httptest.Server, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore(nil)
	e := engine.New(s, compat.DefaultConfig(), schedule.DefaultConfig(), timeout, poll)
	facade := session.New(s, e, rating.DefaultKFactor)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New(prometheus.NewRegistry())
	h := handlers.NewMatchHandler(facade, m, logger)
	return httptest.NewServer(routes.New(h)), s
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, time.Second, 10*time.Millisecond)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]bool
	decode(t, resp, &body)
	require.True(t, body["ok"])
}

func TestRequestMatch_UnknownUserIsNotFound(t *testing.T) {
	srv, _ := newTestServer(t, time.Second, 10*time.Millisecond)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/match", map[string]int{"user_id": 999})
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRequestMatch_ExpiresWithNoOpponent(t *testing.T) {
	srv, s := newTestServer(t, 30*time.Millisecond, 5*time.Millisecond)
	defer srv.Close()
	s.SetPlayer(models.Player{ID: 1, Rating: 1000, Area: "na"})

	resp := postJSON(t, srv.URL+"/match", map[string]int{"user_id": 1})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	decode(t, resp, &body)
	require.Equal(t, "expired", body["status"])
}

func TestStartFinishCancel(t *testing.T) {
	srv, s := newTestServer(t, time.Second, 10*time.Millisecond)
	defer srv.Close()
	s.SetPlayer(models.Player{ID: 1, Rating: 1000, Area: "na"})
	s.SetPlayer(models.Player{ID: 2, Rating: 1000, Area: "na"})

	resp := postJSON(t, srv.URL+"/match/start", map[string]int{"user_a": 1, "user_b": 2})
	var started map[string]int
	decode(t, resp, &started)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	matchID := started["match_id"]
	require.NotZero(t, matchID)

	finishResp := postJSON(t, srv.URL+"/match/finish", map[string]interface{}{
		"match_id": matchID, "score": [2]int{3, 1},
	})
	defer finishResp.Body.Close()
	require.Equal(t, http.StatusOK, finishResp.StatusCode)

	cancelResp, err := http.Get(srv.URL + "/match/cancel/" + strconv.Itoa(matchID))
	require.NoError(t, err)
	defer cancelResp.Body.Close()
	require.Equal(t, http.StatusConflict, cancelResp.StatusCode) // already FINISHED, not ACTIVE
}
