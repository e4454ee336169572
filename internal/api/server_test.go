package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/orbit/ephgo/internal/auth"
	"github.com/orbit/ephgo/internal/ingest"
	"github.com/orbit/ephgo/internal/oem"
	"github.com/orbit/ephgo/internal/store"
	"github.com/orbit/ephgo/internal/stream"
	"github.com/orbit/ephgo/web"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// feedDocument builds OEM XML with n records centered on base, 4 minutes
// apart, at a plausible ISS-altitude equatorial position.
func feedDocument(base time.Time, n int) string {
	doc := "<ndm><oem><body><segment><data>"
	for i := 0; i < n; i++ {
		epoch := oem.FormatEpoch(base.Add(time.Duration(i) * 4 * time.Minute))
		doc += fmt.Sprintf(`<stateVector><EPOCH>%s</EPOCH><X units="km">6778.0</X><Y units="km">%d.0</Y><Z units="km">0.0</Z><X_DOT units="km/s">0.0</X_DOT><Y_DOT units="km/s">7.66</Y_DOT><Z_DOT units="km/s">0.0</Z_DOT></stateVector>`, epoch, i)
	}
	return doc + "</data></segment></body></oem></ndm>"
}

type testEnv struct {
	handler   http.Handler
	feedCalls *atomic.Int64
	base      time.Time
}

func newTestEnv(t *testing.T, authCfg auth.Config) *testEnv {
	t.Helper()
	logger := testLogger()

	base := time.Now().UTC().Add(-10 * time.Minute).Truncate(time.Second)
	var calls atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(feedDocument(base, 10)))
	}))
	t.Cleanup(upstream.Close)

	cache, err := store.Open(filepath.Join(t.TempDir(), "ephgo.db"), logger)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { cache.Close() })

	svc := ingest.NewService(oem.NewFetcher(upstream.URL, 5*time.Second, logger), cache, logger)
	streamHandler := stream.NewHandler(svc, stream.Config{
		MaxConcurrentPerIP: 2,
		MaxConcurrent:      10,
		UpdateInterval:     50 * time.Millisecond,
		KeepaliveInterval:  time.Minute,
	}, logger)

	srv := NewServer(Config{Addr: ":0"}, logger, authCfg, svc, cache, streamHandler, web.Content)
	return &testEnv{handler: srv.HTTPServer().Handler, feedCalls: &calls, base: base}
}

func (e *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
	return w
}

func TestEpochsSlice(t *testing.T) {
	env := newTestEnv(t, auth.Config{})

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantLen    int
	}{
		{"full dataset", "/epochs", http.StatusOK, 10},
		{"window", "/epochs?limit=2&offset=5", http.StatusOK, 2},
		{"offset past end", "/epochs?offset=50", http.StatusOK, 0},
		{"zero limit", "/epochs?limit=0", http.StatusOK, 0},
		{"negative limit", "/epochs?limit=-1", http.StatusBadRequest, 0},
		{"negative offset", "/epochs?offset=-3", http.StatusBadRequest, 0},
		{"non-integer limit", "/epochs?limit=abc", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.get(t, tt.path)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				var resp map[string]any
				json.NewDecoder(w.Body).Decode(&resp)
				if resp["error"] == nil {
					t.Error("expected error field in response")
				}
				return
			}

			var vectors []map[string]any
			if err := json.NewDecoder(w.Body).Decode(&vectors); err != nil {
				t.Fatalf("decoding response: %v", err)
			}
			if len(vectors) != tt.wantLen {
				t.Errorf("got %d vectors, want %d", len(vectors), tt.wantLen)
			}
		})
	}
}

func TestEpochsSliceWindowContent(t *testing.T) {
	env := newTestEnv(t, auth.Config{})

	w := env.get(t, "/epochs?limit=2&offset=5")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var vectors []struct {
		Epoch string  `json:"epoch"`
		Y     float64 `json:"y"`
	}
	if err := json.NewDecoder(w.Body).Decode(&vectors); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(vectors) != 2 || vectors[0].Y != 5 || vectors[1].Y != 6 {
		t.Errorf("got %+v, want records at indices 5 and 6", vectors)
	}
}

func TestEpochLookup(t *testing.T) {
	env := newTestEnv(t, auth.Config{})
	known := oem.FormatEpoch(env.base.Add(3 * 4 * time.Minute))

	w := env.get(t, "/epochs/"+known)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var sv struct {
		Epoch string  `json:"epoch"`
		Y     float64 `json:"y"`
	}
	if err := json.NewDecoder(w.Body).Decode(&sv); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if sv.Epoch != known {
		t.Errorf("epoch = %q, want %q (must round-trip exactly)", sv.Epoch, known)
	}
	if sv.Y != 3 {
		t.Errorf("y = %v, want 3", sv.Y)
	}
}

func TestEpochLookupNotFound(t *testing.T) {
	env := newTestEnv(t, auth.Config{})

	for _, path := range []string{
		"/epochs/2030-001T00:00:00.000000Z",
		"/epochs/not-an-epoch",
		"/epochs/2030-001T00:00:00.000000Z/speed",
		"/epochs/2030-001T00:00:00.000000Z/location",
	} {
		w := env.get(t, path)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", path, w.Code)
		}
	}
}

func TestEpochSpeed(t *testing.T) {
	env := newTestEnv(t, auth.Config{})
	known := oem.FormatEpoch(env.base)

	w := env.get(t, "/epochs/"+known+"/speed")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Epoch string  `json:"epoch"`
		Speed float64 `json:"speed"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Epoch != known {
		t.Errorf("epoch = %q, want %q", resp.Epoch, known)
	}
	if math.Abs(resp.Speed-7.66) > 1e-9 {
		t.Errorf("speed = %v, want 7.66", resp.Speed)
	}
}

func TestEpochLocation(t *testing.T) {
	env := newTestEnv(t, auth.Config{})
	known := oem.FormatEpoch(env.base)

	w := env.get(t, "/epochs/"+known+"/location")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var loc struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Altitude  float64 `json:"altitude"`
	}
	if err := json.NewDecoder(w.Body).Decode(&loc); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	// Equatorial test position: latitude ~0, altitude ~400 km.
	if loc.Latitude < -1 || loc.Latitude > 1 {
		t.Errorf("latitude = %v, want ~0", loc.Latitude)
	}
	if loc.Altitude < 300 || loc.Altitude > 500 {
		t.Errorf("altitude = %v km, want ~400", loc.Altitude)
	}
}

func TestNow(t *testing.T) {
	env := newTestEnv(t, auth.Config{})

	w := env.get(t, "/now")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		StateVector struct {
			Epoch string `json:"epoch"`
		} `json:"state_vector"`
		Speed float64 `json:"speed"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.StateVector.Epoch == "" {
		t.Error("missing state_vector.epoch")
	}
	if math.Abs(resp.Speed-7.66) > 1e-9 {
		t.Errorf("speed = %v, want 7.66", resp.Speed)
	}

	// The nearest record to now must be within the dataset's 4-minute grid.
	epoch, err := oem.ParseEpoch(resp.StateVector.Epoch)
	if err != nil {
		t.Fatalf("parsing returned epoch: %v", err)
	}
	if d := time.Since(epoch); d < -3*time.Minute || d > 3*time.Minute {
		t.Errorf("nearest epoch is %v away from now", d)
	}
}

// TestNowUnavailable verifies 503 when the feed is down and the cache empty.
func TestNowUnavailable(t *testing.T) {
	logger := testLogger()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	cache, err := store.Open(filepath.Join(t.TempDir(), "ephgo.db"), logger)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer cache.Close()

	svc := ingest.NewService(oem.NewFetcher(upstream.URL, 5*time.Second, logger), cache, logger)
	streamHandler := stream.NewHandler(svc, stream.Config{
		MaxConcurrentPerIP: 2, MaxConcurrent: 10,
		UpdateInterval: time.Second, KeepaliveInterval: time.Minute,
	}, logger)
	srv := NewServer(Config{Addr: ":0"}, logger, auth.Config{}, svc, cache, streamHandler, web.Content)

	w := httptest.NewRecorder()
	srv.HTTPServer().Handler.ServeHTTP(w, httptest.NewRequest("GET", "/now", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

// TestPopulateOncePerColdStart verifies the feed is fetched once across many
// requests.
func TestPopulateOncePerColdStart(t *testing.T) {
	env := newTestEnv(t, auth.Config{})

	for i := 0; i < 5; i++ {
		if w := env.get(t, "/epochs"); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, w.Code)
		}
	}
	if n := env.feedCalls.Load(); n != 1 {
		t.Errorf("feed fetched %d times across 5 requests, want 1", n)
	}
}

func TestRefresh(t *testing.T) {
	env := newTestEnv(t, auth.Config{})

	// Populate, then force a reload.
	if w := env.get(t, "/epochs"); w.Code != http.StatusOK {
		t.Fatalf("populate: status = %d", w.Code)
	}

	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, httptest.NewRequest("POST", "/refresh", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Vectors int `json:"vectors"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Vectors != 10 {
		t.Errorf("vectors = %d, want 10", resp.Vectors)
	}
	if n := env.feedCalls.Load(); n != 2 {
		t.Errorf("feed fetched %d times, want 2 (populate + refresh)", n)
	}
}

// TestAuthProtectsRefresh verifies the read surface stays public while
// /refresh requires the token.
func TestAuthProtectsRefresh(t *testing.T) {
	env := newTestEnv(t, auth.Config{Enabled: true, Token: "secret"})

	if w := env.get(t, "/now"); w.Code != http.StatusOK {
		t.Errorf("/now status = %d, want 200 (read surface is public)", w.Code)
	}

	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, httptest.NewRequest("POST", "/refresh", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated /refresh status = %d, want 401", w.Code)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/refresh", nil)
	req.Header.Set("Authorization", "Bearer secret")
	env.handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authenticated /refresh status = %d, want 200", w.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, auth.Config{})

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		if w := env.get(t, path); w.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", path, w.Code)
		}
	}
}
