package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/wasllot/llm-routing-plane/internal/breaker"
	"github.com/wasllot/llm-routing-plane/internal/chat"
	"github.com/wasllot/llm-routing-plane/internal/conversation"
	"github.com/wasllot/llm-routing-plane/internal/embedding"
	"github.com/wasllot/llm-routing-plane/internal/prompt"
	"github.com/wasllot/llm-routing-plane/internal/providers"
	"github.com/wasllot/llm-routing-plane/internal/providers/static"
	"github.com/wasllot/llm-routing-plane/internal/routing"
	"github.com/wasllot/llm-routing-plane/internal/scraper"
	"github.com/wasllot/llm-routing-plane/internal/telemetry"
)

type fakeEmbedder struct{ vector []float32 }

func (f fakeEmbedder) Embed(context.Context, string, embedding.TaskType) ([]float32, error) {
	return f.vector, nil
}
func (f fakeEmbedder) Dimension() int { return embedding.Dimension }

type fakeProvider struct{ text string }

func (f fakeProvider) Name() string { return "openai" }
func (f fakeProvider) Generate(context.Context, string) (string, error) {
	return f.text, nil
}

func testVector() []float32 {
	v := make([]float32, embedding.Dimension)
	v[0] = 1
	return v
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	vectors := embedding.NewInMemoryRepository()
	embedder := fakeEmbedder{vector: testVector()}

	router := routing.New(
		[]providers.Provider{fakeProvider{text: "synthesized answer"}},
		map[string]breaker.Breaker{"openai": breaker.NullBreaker{}},
		static.New(nil),
		routing.DefaultRetryConfig(),
		nil,
		logger,
	)

	chatSvc := chat.NewService(embedder, vectors, router, conversation.NewInMemoryStore(), prompt.NewAssembler(""), logger)

	pool := scraper.NewPool(scraper.DefaultPoolConfig(), logger)
	t.Cleanup(pool.Close)
	scraperSvc := scraper.NewService(pool, scraper.NewInProcessCache(), scraper.DefaultServiceConfig(), logger)

	srv, err := NewServer(Deps{
		Chat:       chatSvc,
		Embeddings: embedder,
		Vectors:    vectors,
		Scraper:    scraperSvc,
		Telemetry:  telemetry.NullRecorder{},
	}, &ServerConfig{Port: "0"}, logger)
	if err != nil {
		t.Fatalf("unexpected error building server: %v", err)
	}
	return srv
}

func doRequest(srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.setupRoutes().ServeHTTP(rec, req)
	return rec
}

func TestHandleIngest_CreatesEmbedding(t *testing.T) {
	srv := newTestServer(t)
	rec := doRequest(srv, http.MethodPost, "/ingest", ingestRequest{Content: "RAG is Retrieval-Augmented Generation"})

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp ingestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID == 0 {
		t.Error("expected a nonzero id")
	}
}

func TestHandleIngest_RejectsEmptyContent(t *testing.T) {
	srv := newTestServer(t)
	rec := doRequest(srv, http.MethodPost, "/ingest", ingestRequest{Content: ""})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleChat_HappyPath(t *testing.T) {
	srv := newTestServer(t)
	doRequest(srv, http.MethodPost, "/ingest", ingestRequest{Content: "RAG is Retrieval-Augmented Generation"})

	rec := doRequest(srv, http.MethodPost, "/chat", chatRequest{Question: "What is RAG?", MaxContextItems: intPtr(3)})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp chat.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Answer == "" {
		t.Error("expected a non-empty answer")
	}
	if resp.ConversationID == "" {
		t.Error("expected a conversation id")
	}
}

func TestHandleChat_RejectsEmptyQuestion(t *testing.T) {
	srv := newTestServer(t)
	rec := doRequest(srv, http.MethodPost, "/chat", chatRequest{Question: ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleChat_RejectsOutOfRangeMaxContextItems(t *testing.T) {
	srv := newTestServer(t)
	rec := doRequest(srv, http.MethodPost, "/chat", chatRequest{Question: "hello", MaxContextItems: intPtr(21)})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleChat_RejectsExplicitZeroMaxContextItems(t *testing.T) {
	srv := newTestServer(t)
	rec := doRequest(srv, http.MethodPost, "/chat", chatRequest{Question: "hello", MaxContextItems: intPtr(0)})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected explicit max_context_items=0 to be rejected, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleChat_OmittedMaxContextItemsDefaults(t *testing.T) {
	srv := newTestServer(t)
	doRequest(srv, http.MethodPost, "/ingest", ingestRequest{Content: "RAG is Retrieval-Augmented Generation"})

	rec := doRequest(srv, http.MethodPost, "/chat", chatRequest{Question: "What is RAG?"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected omitted max_context_items to fall back to the default, got %d: %s", rec.Code, rec.Body.String())
	}
}

func intPtr(i int) *int { return &i }

func TestHandleDeleteEmbedding_IsIdempotent(t *testing.T) {
	srv := newTestServer(t)
	ingestRec := doRequest(srv, http.MethodPost, "/ingest", ingestRequest{Content: "doc"})
	var ingestResp ingestResponse
	json.Unmarshal(ingestRec.Body.Bytes(), &ingestResp)

	path := "/embeddings/" + strconv.FormatInt(ingestResp.ID, 10)
	first := doRequest(srv, http.MethodDelete, path, nil)
	second := doRequest(srv, http.MethodDelete, path, nil)

	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("expected both deletes to return 200, got %d and %d", first.Code, second.Code)
	}
}

func TestHandleHealth_AlwaysHealthy(t *testing.T) {
	srv := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleHealthReady_ReadyWhenDepsPresent(t *testing.T) {
	srv := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/health/ready", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleExtract_RejectsInvalidURL(t *testing.T) {
	srv := newTestServer(t)
	rec := doRequest(srv, http.MethodPost, "/extract", extractRequest{
		URL:             "ftp://example.com",
		ExtractionRules: map[string]scraper.Rule{"title": {Selector: "h1"}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleExtract_CacheHitNeverTouchesBrowserPool(t *testing.T) {
	srv := newTestServer(t)
	rules := scraper.Ruleset{"title": {Selector: "h1"}}
	cache := scraper.NewInProcessCache()
	key := scraper.CacheKey("https://example.com", rules)
	svcCfg := scraper.DefaultServiceConfig()
	if err := cache.Set(context.Background(), key, &scraper.CachedPage{
		Title: "Example Domain",
		Data:  map[string]interface{}{"title": "Example Domain"},
	}, svcCfg.CacheTTL); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	pool := scraper.NewPool(scraper.DefaultPoolConfig(), logrus.New())
	t.Cleanup(pool.Close)
	srv.scraper = scraper.NewService(pool, cache, svcCfg, logrus.New())

	rec := doRequest(srv, http.MethodPost, "/extract", extractRequest{
		URL:             "https://example.com",
		ExtractionRules: map[string]scraper.Rule{"title": {Selector: "h1"}},
		UseCache:        true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result scraper.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !result.FromCache {
		t.Error("expected a cache hit to be flagged from_cache=true")
	}
}

