package pipeline

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/riftgate/gateway/internal/auth"
	"github.com/riftgate/gateway/internal/authz"
	"github.com/riftgate/gateway/internal/breaker"
	"github.com/riftgate/gateway/internal/cache"
	"github.com/riftgate/gateway/internal/dispatcher"
	"github.com/riftgate/gateway/internal/domain"
	"github.com/riftgate/gateway/internal/gatewayerr"
	"github.com/riftgate/gateway/internal/kv"
	"github.com/riftgate/gateway/internal/ratelimit"
	"github.com/riftgate/gateway/internal/route"
	"github.com/riftgate/gateway/internal/spool"
)

const testAPIKey = "test-static-key"

// newTestPipeline wires a full Pipeline against a fake upstream, following
// the seed scenarios of spec §8 (happy path, missing creds, rate limit,
// breaker open).
func newTestPipeline(t *testing.T, upstreamURL string, limit int) *Pipeline {
	t.Helper()

	store := kv.NewMemoryStore()
	authenticator := auth.New(auth.Config{StaticAPIKeys: []string{testAPIKey}})
	authorizer := authz.New(func() authz.PolicyTable {
		tbl := authz.PolicyTable{}
		tbl.Allow("items", "read", "user")
		tbl.Allow("items", "create", "user")
		tbl.Allow("categories", "read", "user")
		tbl.Allow("files", "create", "user")
		return tbl
	}())
	limiter := ratelimit.New(store, ratelimit.Config{
		Default: ratelimit.Rule{Limit: limit, Window: 60 * time.Second},
	}, nil)
	breakers := breaker.NewRegistry(domain.DefaultCircuitConfig())
	respCache := cache.New(store, nil)
	disp := dispatcher.New(map[string]dispatcher.UpstreamConfig{
		domain.UpstreamServiceA: {BaseURL: upstreamURL, APIKey: "upstream-key"},
		domain.UpstreamServiceB: {BaseURL: upstreamURL, APIKey: "upstream-key"},
		domain.UpstreamServiceC: {BaseURL: upstreamURL, APIKey: "upstream-key"},
	}, &http.Client{Timeout: dispatcher.DefaultTimeout}, breakers, respCache)

	return &Pipeline{
		Routes:        route.DefaultTable(),
		Authenticator: authenticator,
		Authorizer:    authorizer,
		Limiter:       limiter,
		Dispatcher:    disp,
		Mapper:        gatewayerr.New(nil),
		Spool:         spool.New(t.TempDir()),
	}
}

func doRequest(p *Pipeline, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)
	return rec
}

// withAPIKeyAsUser stamps the credentials and the "user" role needed to
// clear AuthZ's policy table in these tests (a bare API key otherwise
// carries no role at all, per internal/auth's authenticateAPIKey).
func withAPIKeyAsUser(req *http.Request) *http.Request {
	req.Header.Set(auth.HeaderAPIKey, testAPIKey)
	req.Header.Set(auth.HeaderUserRole, "user")
	return req
}

func TestServeHTTPHappyPathWrapsUpstreamBodyInSuccessEnvelope(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"1","name":"widget"}`))
	}))
	defer upstream.Close()

	p := newTestPipeline(t, upstream.URL, 10)

	req := withAPIKeyAsUser(httptest.NewRequest(http.MethodGet, "/api/service-a/items", nil))

	rec := doRequest(p, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var env domain.SuccessEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode envelope: %v", err)
	}
	if !env.Success {
		t.Fatalf("expected success=true, got %+v", env)
	}
}

func TestServeHTTPMissingCredentialsReturnsUnauthorized(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream should never be reached without credentials")
	}))
	defer upstream.Close()

	p := newTestPipeline(t, upstream.URL, 10)

	req := httptest.NewRequest(http.MethodGet, "/api/service-a/items", nil)
	rec := doRequest(p, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401, body=%s", rec.Code, rec.Body.String())
	}
	var env domain.ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode envelope: %v", err)
	}
	if env.Error != domain.ErrorTypeUnauthorized {
		t.Fatalf("Error = %q, want %q", env.Error, domain.ErrorTypeUnauthorized)
	}
}

func TestServeHTTPUnknownRouteReturnsNotFound(t *testing.T) {
	p := newTestPipeline(t, "http://unused.invalid", 10)

	req := withAPIKeyAsUser(httptest.NewRequest(http.MethodGet, "/api/nonexistent", nil))
	rec := doRequest(p, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body=%s", rec.Code, rec.Body.String())
	}
}

func TestServeHTTPRateLimitExceededReturnsTooManyRequests(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	p := newTestPipeline(t, upstream.URL, 1)

	mkReq := func() *http.Request {
		return withAPIKeyAsUser(httptest.NewRequest(http.MethodGet, "/api/service-a/items", nil))
	}

	first := doRequest(p, mkReq())
	if first.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200, body=%s", first.Code, first.Body.String())
	}

	second := doRequest(p, mkReq())
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429, body=%s", second.Code, second.Body.String())
	}
}

func TestServeHTTPForwardsRequestBodyOnPost(t *testing.T) {
	var receivedBody []byte
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := new(bytes.Buffer)
		buf.ReadFrom(r.Body)
		receivedBody = buf.Bytes()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"2"}`))
	}))
	defer upstream.Close()

	p := newTestPipeline(t, upstream.URL, 10)

	payload := []byte(`{"name":"new-widget"}`)
	req := withAPIKeyAsUser(httptest.NewRequest(http.MethodPost, "/api/service-a/items", bytes.NewReader(payload)))

	rec := doRequest(p, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", rec.Code, rec.Body.String())
	}
	if string(receivedBody) != string(payload) {
		t.Fatalf("upstream received body %q, want %q", receivedBody, payload)
	}
}

func TestServeHTTPSpoolsMultipartUpload(t *testing.T) {
	var receivedFieldName, receivedFileName string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("upstream failed to parse multipart form: %v", err)
		}
		for name, files := range r.MultipartForm.File {
			receivedFieldName = name
			receivedFileName = files[0].Filename
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"file-1"}`))
	}))
	defer upstream.Close()

	p := newTestPipeline(t, upstream.URL, 10)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "report.pdf")
	if err != nil {
		t.Fatalf("failed to build multipart request: %v", err)
	}
	part.Write([]byte("%PDF-1.4 fake contents"))
	mw.Close()

	req := withAPIKeyAsUser(httptest.NewRequest(http.MethodPost, "/api/service-c/files", &body))
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec := doRequest(p, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", rec.Code, rec.Body.String())
	}
	if receivedFieldName != "file" {
		t.Fatalf("upstream field name = %q, want %q", receivedFieldName, "file")
	}
	if receivedFileName != "report.pdf" {
		t.Fatalf("upstream file name = %q, want %q", receivedFileName, "report.pdf")
	}
}

func TestServeHTTPWriteInvalidatesListAndAggregateCaches(t *testing.T) {
	itemCalls, listCalls, categoriesCalls := 0, 0, 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/items" && r.Method == http.MethodGet:
			listCalls++
			w.Write([]byte(`{"success":true,"data":[{"id":"1"}]}`))
		case r.URL.Path == "/categories" && r.Method == http.MethodGet:
			categoriesCalls++
			w.Write([]byte(`{"success":true,"data":[{"id":"c1"}]}`))
		case r.URL.Path == "/items" && r.Method == http.MethodPost:
			itemCalls++
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":"2"}`))
		default:
			t.Fatalf("unexpected upstream request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer upstream.Close()

	p := newTestPipeline(t, upstream.URL, 100)

	getItems := func() *httptest.ResponseRecorder {
		return doRequest(p, withAPIKeyAsUser(httptest.NewRequest(http.MethodGet, "/api/service-a/items", nil)))
	}
	getCategories := func() *httptest.ResponseRecorder {
		return doRequest(p, withAPIKeyAsUser(httptest.NewRequest(http.MethodGet, "/api/service-a/categories", nil)))
	}

	if rec := getItems(); rec.Code != http.StatusOK {
		t.Fatalf("initial items GET status = %d, body=%s", rec.Code, rec.Body.String())
	}
	if rec := getCategories(); rec.Code != http.StatusOK {
		t.Fatalf("initial categories GET status = %d, body=%s", rec.Code, rec.Body.String())
	}
	if rec := getItems(); rec.Code != http.StatusOK {
		t.Fatalf("cached items GET status = %d, body=%s", rec.Code, rec.Body.String())
	}
	if rec := getCategories(); rec.Code != http.StatusOK {
		t.Fatalf("cached categories GET status = %d, body=%s", rec.Code, rec.Body.String())
	}
	if listCalls != 1 {
		t.Fatalf("expected the list GET to be served from cache on the second call, got %d upstream calls", listCalls)
	}
	if categoriesCalls != 1 {
		t.Fatalf("expected the categories GET to be served from cache on the second call, got %d upstream calls", categoriesCalls)
	}

	payload := []byte(`{"name":"new-widget"}`)
	writeReq := withAPIKeyAsUser(httptest.NewRequest(http.MethodPost, "/api/service-a/items", bytes.NewReader(payload)))
	if rec := doRequest(p, writeReq); rec.Code != http.StatusCreated {
		t.Fatalf("write status = %d, want 201, body=%s", rec.Code, rec.Body.String())
	}
	if itemCalls != 1 {
		t.Fatalf("expected exactly 1 upstream write call, got %d", itemCalls)
	}

	if rec := getItems(); rec.Code != http.StatusOK {
		t.Fatalf("post-write items GET status = %d, body=%s", rec.Code, rec.Body.String())
	}
	if rec := getCategories(); rec.Code != http.StatusOK {
		t.Fatalf("post-write categories GET status = %d, body=%s", rec.Code, rec.Body.String())
	}
	if listCalls != 2 {
		t.Fatalf("expected the write to invalidate the list cache key, got %d upstream list calls", listCalls)
	}
	if categoriesCalls != 2 {
		t.Fatalf("expected the write to invalidate the categories aggregate cache key, got %d upstream categories calls", categoriesCalls)
	}
}

func TestServeHTTPBreakerOpensAfterRepeatedFailures(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	upstreamURL := upstream.URL
	upstream.Close() // closed immediately: every dial now fails with connection refused

	p := newTestPipeline(t, upstreamURL, 100)

	mkReq := func() *http.Request {
		return withAPIKeyAsUser(httptest.NewRequest(http.MethodGet, "/api/service-a/items", nil))
	}

	cfg := domain.DefaultCircuitConfig()
	var last *httptest.ResponseRecorder
	for i := 0; i < cfg.FailureThreshold; i++ {
		last = doRequest(p, mkReq())
	}
	if last.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 for a transport failure, body=%s", last.Code, last.Body.String())
	}
	var lastEnv domain.ErrorEnvelope
	if err := json.Unmarshal(last.Body.Bytes(), &lastEnv); err != nil {
		t.Fatalf("failed to decode envelope: %v", err)
	}
	if lastEnv.Message != "upstream is unreachable" {
		t.Fatalf("expected a transport-level message before the breaker opens, got %q", lastEnv.Message)
	}

	opened := doRequest(p, mkReq())
	if opened.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 once breaker is open, body=%s", opened.Code, opened.Body.String())
	}
	var openedEnv domain.ErrorEnvelope
	if err := json.Unmarshal(opened.Body.Bytes(), &openedEnv); err != nil {
		t.Fatalf("failed to decode envelope: %v", err)
	}
	if openedEnv.Message != "service-a is currently unavailable" {
		t.Fatalf("expected the breaker's own short-circuit message once open, got %q", openedEnv.Message)
	}
}
