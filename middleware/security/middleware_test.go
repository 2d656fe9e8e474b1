package security

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/neoforge-dev/synapse-gateway/middleware/security/application"
	"github.com/neoforge-dev/synapse-gateway/middleware/security/domain"
	"github.com/neoforge-dev/synapse-gateway/middleware/security/infra"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// rajadas desligadas: os testes de limite contam admissões exatas.
var noBurst = application.BurstConfig{Multiplier: 1, MaxGrants: 0, Lookback: time.Minute}

func newTestLimiter(t *testing.T, store domain.WindowStore, cfg application.LimiterConfig) *application.Limiter {
	t.Helper()
	if cfg.Burst == (application.BurstConfig{}) {
		cfg.Burst = noBurst
	}
	lim, err := application.NewLimiter(store, cfg, discardLogger())
	if err != nil {
		t.Fatalf("NewLimiter: %v", err)
	}
	return lim
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})
}

func doRequest(h http.Handler, path, remoteAddr string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "http://example"+path, nil)
	r.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decodeDenial(t *testing.T, w *httptest.ResponseRecorder) denialBody {
	t.Helper()
	var body denialBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decoding denial body: %v", err)
	}
	return body
}

func TestMiddleware_IPLimitDeniesWithHeadersAndBody(t *testing.T) {
	store := infra.NewMemoryWindowStore()
	h := Middleware(Options{
		Limiter: newTestLimiter(t, store, application.LimiterConfig{}),
		Blocks:  infra.NewMemoryBlockRegistry(),
		Limits:  Limits{IPMax: 2, IPWindow: time.Minute},
		Logger:  discardLogger(),
	})(okHandler())

	for i := 0; i < 2; i++ {
		if w := doRequest(h, "/api/v1/lookup", "10.0.0.1:1234"); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
		}
	}

	w := doRequest(h, "/api/v1/lookup", "10.0.0.1:1234")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got == "" {
		t.Fatalf("expected Retry-After header to be set")
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("expected X-RateLimit-Remaining=0, got %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Reset"); got == "" {
		t.Fatalf("expected X-RateLimit-Reset header to be set")
	}
	if got := w.Header().Get("X-Security-Block"); got != domain.CodeIPRateLimit {
		t.Fatalf("expected X-Security-Block=%s, got %q", domain.CodeIPRateLimit, got)
	}

	body := decodeDenial(t, w)
	if body.ErrorCode != domain.CodeIPRateLimit {
		t.Fatalf("expected error_code=%s, got %q", domain.CodeIPRateLimit, body.ErrorCode)
	}
	if body.RetryAfter < 1 {
		t.Fatalf("expected retry_after >= 1, got %d", body.RetryAfter)
	}

	// outro IP continua passando: as janelas são independentes
	if w := doRequest(h, "/api/v1/lookup", "10.0.0.2:1234"); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for a different ip, got %d", w.Code)
	}
}

func TestMiddleware_SuccessCarriesSecurityHeaders(t *testing.T) {
	h := Middleware(Options{
		Limiter: newTestLimiter(t, infra.NewMemoryWindowStore(), application.LimiterConfig{}),
		Blocks:  infra.NewMemoryBlockRegistry(),
		Logger:  discardLogger(),
	})(okHandler())

	w := doRequest(h, "/", "10.0.0.1:1234")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"X-Client-IP":            "10.0.0.1",
	} {
		if got := w.Header().Get(header); got != want {
			t.Fatalf("expected %s=%q, got %q", header, want, got)
		}
	}
	if got := w.Header().Get("Strict-Transport-Security"); got == "" {
		t.Fatalf("expected Strict-Transport-Security to be set")
	}
	if got := w.Header().Get("X-Process-Time"); got == "" {
		t.Fatalf("expected X-Process-Time to be set")
	}
}

func TestMiddleware_BypassPathsAndAdminIPs(t *testing.T) {
	h := Middleware(Options{
		Limiter:     newTestLimiter(t, infra.NewMemoryWindowStore(), application.LimiterConfig{}),
		Blocks:      infra.NewMemoryBlockRegistry(),
		Limits:      Limits{IPMax: 1, IPWindow: time.Minute},
		Logger:      discardLogger(),
		BypassPaths: []string{"/healthz"},
		AdminIPs:    []string{"192.168.0.9"},
	})(okHandler())

	// health passa quantas vezes for preciso
	for i := 0; i < 5; i++ {
		if w := doRequest(h, "/healthz", "10.0.0.1:1234"); w.Code != http.StatusOK {
			t.Fatalf("health request %d: expected 200, got %d", i+1, w.Code)
		}
	}

	// o mesmo vale para o IP administrativo em qualquer rota
	for i := 0; i < 5; i++ {
		if w := doRequest(h, "/api/v1/lookup", "192.168.0.9:5555"); w.Code != http.StatusOK {
			t.Fatalf("admin request %d: expected 200, got %d", i+1, w.Code)
		}
	}
}

func TestMiddleware_BlockedIPGets403(t *testing.T) {
	blocks := infra.NewMemoryBlockRegistry()
	if err := blocks.Block(context.Background(), "10.0.0.1", time.Hour, "manual"); err != nil {
		t.Fatalf("Block: %v", err)
	}

	h := Middleware(Options{
		Limiter: newTestLimiter(t, infra.NewMemoryWindowStore(), application.LimiterConfig{}),
		Blocks:  blocks,
		Logger:  discardLogger(),
	})(okHandler())

	w := doRequest(h, "/api/v1/lookup", "10.0.0.1:1234")
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	body := decodeDenial(t, w)
	if body.ErrorCode != domain.CodeIPBlocked {
		t.Fatalf("expected error_code=%s, got %q", domain.CodeIPBlocked, body.ErrorCode)
	}

	// outro IP não é afetado pelo bloqueio
	if w := doRequest(h, "/api/v1/lookup", "10.0.0.2:1234"); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for unblocked ip, got %d", w.Code)
	}
}

func TestMiddleware_RapidPatternCreatesBlock(t *testing.T) {
	store := infra.NewMemoryWindowStore()
	an, err := application.NewAnalyzer(store, application.AnalyzerConfig{
		RapidThreshold: 2,
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewAnalyzer: %v", err)
	}

	blocks := infra.NewMemoryBlockRegistry()
	h := Middleware(Options{
		Limiter:  newTestLimiter(t, store, application.LimiterConfig{}),
		Analyzer: an,
		Blocks:   blocks,
		Logger:   discardLogger(),
	})(okHandler())

	// o detector de rajada dispara na terceira requisição dentro da janela
	var blocked *httptest.ResponseRecorder
	for i := 0; i < 5; i++ {
		w := doRequest(h, "/api/v1/lookup", "10.0.0.1:1234")
		if w.Code == http.StatusForbidden {
			blocked = w
			break
		}
	}
	if blocked == nil {
		t.Fatalf("expected the rapid-request pattern to deny a request")
	}
	body := decodeDenial(t, blocked)
	if body.ErrorCode != domain.CodeSuspiciousActivity {
		t.Fatalf("expected error_code=%s, got %q", domain.CodeSuspiciousActivity, body.ErrorCode)
	}

	// o bloqueio persiste: a próxima requisição cai na deny-list
	w := doRequest(h, "/api/v1/lookup", "10.0.0.1:1234")
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 after block, got %d", w.Code)
	}
	if body := decodeDenial(t, w); body.ErrorCode != domain.CodeIPBlocked {
		t.Fatalf("expected error_code=%s, got %q", domain.CodeIPBlocked, body.ErrorCode)
	}
}

func TestMiddleware_UserTierLimit(t *testing.T) {
	h := Middleware(Options{
		Limiter: newTestLimiter(t, infra.NewMemoryWindowStore(), application.LimiterConfig{}),
		Blocks:  infra.NewMemoryBlockRegistry(),
		Limits:  Limits{UserMax: 2, UserWindow: time.Minute},
		Logger:  discardLogger(),
	})(okHandler())

	send := func(remote string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "http://example/api/v1/lookup", nil)
		r.RemoteAddr = remote
		r = RequestWithUser(r, User{ID: "user-1", Tier: domain.TierFree})
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	// o teto do usuário segue a identidade, não o IP
	if w := send("10.0.0.1:1"); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := send("10.0.0.2:1"); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	w := send("10.0.0.3:1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if body := decodeDenial(t, w); body.ErrorCode != domain.CodeUserRateLimit {
		t.Fatalf("expected error_code=%s, got %q", domain.CodeUserRateLimit, body.ErrorCode)
	}
}

func TestMiddleware_EndpointOverride(t *testing.T) {
	h := Middleware(Options{
		Limiter: newTestLimiter(t, infra.NewMemoryWindowStore(), application.LimiterConfig{
			Endpoints: map[string]application.EndpointOverride{
				"/api/v1/content/generate": {Rate: 2, Period: time.Minute},
			},
		}),
		Blocks: infra.NewMemoryBlockRegistry(),
		Logger: discardLogger(),
	})(okHandler())

	for i := 0; i < 2; i++ {
		if w := doRequest(h, "/api/v1/content/generate", "10.0.0.1:1234"); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
		}
	}
	w := doRequest(h, "/api/v1/content/generate", "10.0.0.1:1234")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if body := decodeDenial(t, w); body.ErrorCode != domain.CodeEndpointRateLimit {
		t.Fatalf("expected error_code=%s, got %q", domain.CodeEndpointRateLimit, body.ErrorCode)
	}

	// rotas sem override não sofrem o teto apertado
	for i := 0; i < 5; i++ {
		if w := doRequest(h, "/api/v1/lookup", "10.0.0.1:1234"); w.Code != http.StatusOK {
			t.Fatalf("other route request %d: expected 200, got %d", i+1, w.Code)
		}
	}
}

// brokenStore falha toda operação para exercitar o caminho fail-open.
type brokenStore struct{}

var errStoreDown = errors.New("store down")

func (brokenStore) Count(context.Context, string, time.Duration, time.Time) (int64, error) {
	return 0, errStoreDown
}

func (brokenStore) Add(context.Context, string, string, time.Time, time.Duration) error {
	return errStoreDown
}

func (brokenStore) Observe(context.Context, string, string, time.Duration, time.Time, time.Duration) (int64, error) {
	return 0, errStoreDown
}

func (brokenStore) Oldest(context.Context, string) (time.Time, bool, error) {
	return time.Time{}, false, errStoreDown
}

func TestMiddleware_FailsOpenWhenStoreUnavailable(t *testing.T) {
	h := Middleware(Options{
		Limiter: newTestLimiter(t, brokenStore{}, application.LimiterConfig{}),
		Blocks:  infra.NewMemoryBlockRegistry(),
		Limits:  Limits{IPMax: 1, IPWindow: time.Minute},
		Logger:  discardLogger(),
	})(okHandler())

	// disponibilidade vence rigidez: todas passam mesmo com o teto em 1
	for i := 0; i < 5; i++ {
		if w := doRequest(h, "/api/v1/lookup", "10.0.0.1:1234"); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200 with store down, got %d", i+1, w.Code)
		}
	}
}

func TestMiddleware_ConcurrencySlotsExhausted(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		<-release
		w.WriteHeader(http.StatusOK)
	})

	h := Middleware(Options{
		Limiter:        newTestLimiter(t, infra.NewMemoryWindowStore(), application.LimiterConfig{}),
		Blocks:         infra.NewMemoryBlockRegistry(),
		Logger:         discardLogger(),
		MaxConcurrent:  1,
		AcquireTimeout: 30 * time.Millisecond,
	})(slow)

	done := make(chan *httptest.ResponseRecorder)
	go func() {
		done <- doRequest(h, "/api/v1/lookup", "10.0.0.1:1")
	}()
	<-entered

	// com o único slot ocupado, a segunda requisição estoura o timeout
	if w := doRequest(h, "/api/v1/lookup", "10.0.0.2:1"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when slots are exhausted, got %d", w.Code)
	}

	close(release)
	if w := <-done; w.Code != http.StatusOK {
		t.Fatalf("expected the in-flight request to finish with 200, got %d", w.Code)
	}
}
