package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"mangadrop/internal/clock"
	"mangadrop/internal/config"
	"mangadrop/internal/distribution"
	"mangadrop/internal/domain"
	"mangadrop/internal/economy"
	"mangadrop/internal/feed"
	"mangadrop/internal/metrics"
	"mangadrop/internal/pending"
	"mangadrop/internal/ratelimit"
	"mangadrop/internal/score"
	"mangadrop/internal/stats"
	"mangadrop/internal/storage/memory"
	"mangadrop/internal/sweeper"
)

type stubCatalog struct {
	items []domain.Item
	next  int
	fail  bool
}

func (c *stubCatalog) FetchRandom(_ context.Context) (domain.Item, error) {
	if c.fail {
		return domain.Item{}, errors.New("catalog down")
	}
	item := c.items[c.next%len(c.items)]
	c.next++
	return item, nil
}

func (c *stubCatalog) FetchByID(_ context.Context, id int) (domain.Item, error) {
	for _, item := range c.items {
		if item.ID == id {
			return item, nil
		}
	}
	return domain.Item{}, errors.New("unknown item")
}

type testEnv struct {
	server  *Server
	clock   *clock.FakeClock
	catalog *stubCatalog
	store   *memory.Store
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Load()
	cfg.HTTPRateRPS = 0
	if mutate != nil {
		mutate(&cfg)
	}

	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	catalog := &stubCatalog{items: []domain.Item{
		{ID: 11, Title: "Monster", URL: "https://example.test/manga/11", Score: 9.1, Popularity: 30, Members: 300000, Favorites: 40000, Status: domain.StatusFinished},
		{ID: 22, Title: "Pluto", URL: "https://example.test/manga/22", Score: 8.7, Popularity: 150, Members: 150000, Favorites: 9000, Status: domain.StatusFinished},
	}}
	store := memory.New()
	engine := score.NewEngine(score.DefaultParams())
	hub := feed.NewHub()
	econ := economy.NewService(store, engine, clk, cfg.DailyAmount, cfg.DailyCooldown)
	counters := metrics.NewCounters()
	recorder := stats.NewMemoryRecorder()
	logger := log.New(io.Discard, "", 0)

	service := distribution.NewService(distribution.Dependencies{
		Catalog: catalog,
		Store:   store,
		Registry: pending.NewRegistry(clk, pending.Options{
			Expiration:  cfg.PostingExpiration,
			Retention:   cfg.PostingRetention,
			HardCap:     cfg.RegistryHardCap,
			EvictTarget: cfg.RegistryEvictTarget,
		}),
		Limiter: ratelimit.New(clk, map[ratelimit.Class]ratelimit.Limit{
			ratelimit.ClassRoll:  {Max: cfg.RollLimit.Max, Window: cfg.RollLimit.Window},
			ratelimit.ClassClaim: {Max: cfg.ClaimLimit.Max, Window: cfg.ClaimLimit.Window},
		}),
		Engine:     engine,
		Economy:    econ,
		Hub:        hub,
		Stats:      recorder,
		Clock:      clk,
		Logger:     logger,
		Metrics:    counters,
		Expiration: cfg.PostingExpiration,
	})

	server := NewServer(Dependencies{
		Config:   cfg,
		Service:  service,
		Store:    store,
		Catalog:  catalog,
		Economy:  econ,
		Hub:      hub,
		Stats:    recorder,
		Metrics:  counters,
		Clock:    clk,
		Logger:   logger,
		Liveness: sweeper.NewLiveness(),
	})

	return &testEnv{server: server, clock: clk, catalog: catalog, store: store}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.server.Router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["ok"] != true {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestRollAndClaimEndToEnd(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/v1/roll", map[string]string{"user_id": "alice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("roll status = %d body=%s", rec.Code, rec.Body.String())
	}
	var roll rollResponse
	decodeBody(t, rec, &roll)
	if roll.PostingID == "" || roll.Item.ID == 0 || roll.DisplayValue < 1 {
		t.Fatalf("incomplete roll response: %+v", roll)
	}

	rec = env.do(t, http.MethodGet, "/v1/postings/"+roll.PostingID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("posting status = %d", rec.Code)
	}
	var posting postingResponse
	decodeBody(t, rec, &posting)
	if posting.State != "active" || posting.ItemID != roll.Item.ID {
		t.Fatalf("unexpected posting: %+v", posting)
	}

	rec = env.do(t, http.MethodPost, "/v1/claim", map[string]string{"posting_id": roll.PostingID, "user_id": "bob"})
	if rec.Code != http.StatusOK {
		t.Fatalf("claim status = %d body=%s", rec.Code, rec.Body.String())
	}
	var claim claimResponse
	decodeBody(t, rec, &claim)
	if claim.ItemID != roll.Item.ID || claim.Reward <= 0 || claim.Balance != claim.Reward {
		t.Fatalf("unexpected claim: %+v", claim)
	}

	// The posting is consumed.
	rec = env.do(t, http.MethodGet, "/v1/postings/"+roll.PostingID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("claimed posting should be gone, status = %d", rec.Code)
	}

	// And it shows up in the claimant's collection, hydrated.
	rec = env.do(t, http.MethodGet, "/v1/users/bob/collection", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("collection status = %d", rec.Code)
	}
	var collection struct {
		Total int               `json:"total"`
		Items []collectionEntry `json:"items"`
	}
	decodeBody(t, rec, &collection)
	if collection.Total != 1 || len(collection.Items) != 1 || collection.Items[0].Title == "" {
		t.Fatalf("unexpected collection: %+v", collection)
	}
}

func TestRollRejectsInvalidBody(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/v1/roll", map[string]string{"user_id": ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/roll", strings.NewReader(`{"user_id":"a","extra":1}`))
	rec = httptest.NewRecorder()
	env.server.Router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field should be rejected, status = %d", rec.Code)
	}
}

func TestRollRateLimitResponse(t *testing.T) {
	env := newTestEnv(t, nil)

	for i := 0; i < 10; i++ {
		rec := env.do(t, http.MethodPost, "/v1/roll", map[string]string{"user_id": "alice"})
		if rec.Code != http.StatusOK {
			t.Fatalf("roll %d status = %d", i+1, rec.Code)
		}
	}
	rec := env.do(t, http.MethodPost, "/v1/roll", map[string]string{"user_id": "alice"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["retry_after_seconds"].(float64) <= 0 {
		t.Fatalf("missing retry_after_seconds: %v", body)
	}
}

func TestRollUpstreamFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.catalog.fail = true

	rec := env.do(t, http.MethodPost, "/v1/roll", map[string]string{"user_id": "alice"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestClaimErrorStatuses(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/v1/claim", map[string]string{"posting_id": "missing", "user_id": "bob"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown posting status = %d, want 404", rec.Code)
	}

	var roll rollResponse
	rec = env.do(t, http.MethodPost, "/v1/roll", map[string]string{"user_id": "alice"})
	decodeBody(t, rec, &roll)

	env.clock.Advance(31 * time.Second)
	rec = env.do(t, http.MethodPost, "/v1/claim", map[string]string{"posting_id": roll.PostingID, "user_id": "bob"})
	if rec.Code != http.StatusGone {
		t.Fatalf("expired posting status = %d, want 410", rec.Code)
	}

	// Two fresh postings; the second claim inside the window is 429.
	rec = env.do(t, http.MethodPost, "/v1/roll", map[string]string{"user_id": "alice"})
	decodeBody(t, rec, &roll)
	first := roll.PostingID
	rec = env.do(t, http.MethodPost, "/v1/roll", map[string]string{"user_id": "alice"})
	decodeBody(t, rec, &roll)
	second := roll.PostingID

	if rec := env.do(t, http.MethodPost, "/v1/claim", map[string]string{"posting_id": first, "user_id": "bob"}); rec.Code != http.StatusOK {
		t.Fatalf("first claim status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/v1/claim", map[string]string{"posting_id": second, "user_id": "bob"}); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second claim status = %d, want 429", rec.Code)
	}
}

func TestDailyGrantAndCooldown(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/v1/users/alice/daily", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("daily status = %d", rec.Code)
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["granted"] != true || body["amount"].(float64) != 100 {
		t.Fatalf("unexpected daily: %v", body)
	}

	rec = env.do(t, http.MethodPost, "/v1/users/alice/daily", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second daily status = %d, want 429", rec.Code)
	}

	env.clock.Advance(24 * time.Hour)
	rec = env.do(t, http.MethodPost, "/v1/users/alice/daily", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("daily after cooldown status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/v1/users/alice/balance", nil)
	decodeBody(t, rec, &body)
	if body["balance"].(float64) != 200 {
		t.Fatalf("balance = %v, want 200", body["balance"])
	}
}

func TestRankings(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	now := env.clock.Now()

	for i := 0; i < 3; i++ {
		if err := env.store.RecordClaim(ctx, "alice", 100+i, now); err != nil {
			t.Fatalf("record claim: %v", err)
		}
	}
	if err := env.store.RecordClaim(ctx, "bob", 100, now); err != nil {
		t.Fatalf("record claim: %v", err)
	}
	if _, err := env.store.Credit(ctx, "bob", 500, "claim", "test", now); err != nil {
		t.Fatalf("credit: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/v1/rankings/claims?limit=5", nil)
	var claims struct {
		Entries []struct {
			UserID string `json:"user_id"`
			Count  int    `json:"count"`
		} `json:"entries"`
	}
	decodeBody(t, rec, &claims)
	if len(claims.Entries) != 2 || claims.Entries[0].UserID != "alice" || claims.Entries[0].Count != 3 {
		t.Fatalf("unexpected claim ranking: %+v", claims.Entries)
	}

	rec = env.do(t, http.MethodGet, "/v1/rankings/balance", nil)
	var balances struct {
		Entries []struct {
			UserID  string  `json:"user_id"`
			Balance float64 `json:"balance"`
		} `json:"entries"`
	}
	decodeBody(t, rec, &balances)
	if len(balances.Entries) != 1 || balances.Entries[0].UserID != "bob" {
		t.Fatalf("unexpected balance ranking: %+v", balances.Entries)
	}
}

func TestStatszSnapshot(t *testing.T) {
	env := newTestEnv(t, nil)
	_ = env.do(t, http.MethodPost, "/v1/roll", map[string]string{"user_id": "alice"})

	rec := env.do(t, http.MethodGet, "/statsz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Counters map[string]uint64 `json:"counters"`
		Quota    map[string]uint64 `json:"quota"`
	}
	decodeBody(t, rec, &body)
	if body.Counters["rolls_issued_total"] != 1 {
		t.Fatalf("rolls not counted: %v", body.Counters)
	}
	if body.Quota["roll:allowed"] != 1 {
		t.Fatalf("quota stats missing: %v", body.Quota)
	}
}

func TestReadyzReflectsSweeperLiveness(t *testing.T) {
	env := newTestEnv(t, nil)

	// Before the first sweep is due, readiness holds.
	rec := env.do(t, http.MethodGet, "/readyz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	// A stalled sweeper eventually flips readiness.
	env.clock.Advance(3 * env.server.cfg.RegistrySweepInterval)
	rec = env.do(t, http.MethodGet, "/readyz", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	env.server.liveness.Mark(env.clock.Now())
	rec = env.do(t, http.MethodGet, "/readyz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d after mark", rec.Code)
	}
}

func TestPerIPRateLimit(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.HTTPRateRPS = 0.001
		cfg.HTTPRateBurst = 2
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := env.do(t, http.MethodGet, "/v1/users/alice/balance", nil)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}

	// Health endpoints sit outside the limited group.
	if rec := env.do(t, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz limited: %d", rec.Code)
	}
}

func TestFeedStreamsEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.server.Router)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/feed"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	rec := env.do(t, http.MethodPost, "/v1/roll", map[string]string{"user_id": "alice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("roll status = %d", rec.Code)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev feed.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != feed.EventPostingIssued {
		t.Fatalf("event type = %v", ev.Type)
	}
}

func TestCollectionPagination(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	base := env.clock.Now()

	for i := 0; i < 5; i++ {
		if err := env.store.RecordClaim(ctx, "alice", 1000+i, base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("record claim: %v", err)
		}
	}

	rec := env.do(t, http.MethodGet, "/v1/users/alice/collection?limit=2&offset=1", nil)
	var body struct {
		Total  int               `json:"total"`
		Offset int               `json:"offset"`
		Items  []collectionEntry `json:"items"`
	}
	decodeBody(t, rec, &body)
	if body.Total != 5 || body.Offset != 1 || len(body.Items) != 2 {
		t.Fatalf("unexpected page: %+v", body)
	}
	// Most recent first: offset 1 skips item 1004.
	if body.Items[0].ItemID != 1003 {
		t.Fatalf("first item = %d, want 1003", body.Items[0].ItemID)
	}
}
