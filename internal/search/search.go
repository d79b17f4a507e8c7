package search

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/ocx/gateway/internal/catalog"
	"github.com/ocx/gateway/internal/embeddings"
)

// RankedFunction is a Function plus the relevance score assigned by the
// reranking pass, in descending-score order.
type RankedFunction struct {
	Function catalog.Function `json:"function"`
	Score    float64          `json:"score"`
}

// Reranker re-orders a candidate set against the free-text query using an
// LLM judgment pass, independent of the embedding model used for the
// initial vector ranking.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []catalog.Function) ([]RankedFunction, error)
}

// HTTPReranker POSTs the query and each candidate's canonical text to a
// rerank endpoint, expects exactly one score per candidate back, and
// returns the candidates sorted by that score, highest first.
type HTTPReranker struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewHTTPReranker(endpoint, apiKey, model string) *HTTPReranker {
	return &HTTPReranker{
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type rerankRequestPayload struct {
	Model      string   `json:"model"`
	Query      string   `json:"query"`
	Candidates []string `json:"candidates"`
}

type rerankResponsePayload struct {
	Scores []float64 `json:"scores"`
}

func (r *HTTPReranker) Rerank(ctx context.Context, query string, candidates []catalog.Function) ([]RankedFunction, error) {
	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = embeddings.CanonicalFunctionText(&c)
	}

	body, err := json.Marshal(rerankRequestPayload{Model: r.model, Query: query, Candidates: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank request returned %d", resp.StatusCode)
	}

	var out rerankResponsePayload
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	if len(out.Scores) != len(candidates) {
		return nil, fmt.Errorf("rerank response had %d scores for %d candidates", len(out.Scores), len(candidates))
	}

	ranked := make([]RankedFunction, len(candidates))
	for i, c := range candidates {
		ranked[i] = RankedFunction{Function: c, Score: out.Scores[i]}
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	return ranked, nil
}

// Engine implements the function search policy: access filter, app
// filter, lexical prefilter, vector rank, over-fetch, LLM rerank, with a
// cache in front of the rerank step.
type Engine struct {
	store      catalog.Store
	embedder   embeddings.Client
	reranker   Reranker
	cache      *RerankCache
	overfetch  int
	prefilterN int
	minScore   float64
	logger     *log.Logger
}

type Config struct {
	Overfetch       int
	PrefilterLimit  int
	MinScore        float64
	CacheCapacity   int
	CacheTTL        time.Duration
}

func NewEngine(store catalog.Store, embedder embeddings.Client, reranker Reranker, cfg Config) *Engine {
	if cfg.Overfetch <= 0 {
		cfg.Overfetch = 30
	}
	if cfg.PrefilterLimit <= 0 {
		cfg.PrefilterLimit = 200
	}
	return &Engine{
		store:      store,
		embedder:   embedder,
		reranker:   reranker,
		cache:      NewRerankCache(cfg.CacheCapacity, cfg.CacheTTL),
		overfetch:  cfg.Overfetch,
		prefilterN: cfg.PrefilterLimit,
		minScore:   cfg.MinScore,
		logger:     log.New(log.Writer(), "[SEARCH] ", log.LstdFlags),
	}
}

// Request describes one search call, already access-filtered by the
// caller (project ID and enabled-app set resolved before this point).
type Request struct {
	ProjectID     string
	Query         string
	AllowedApps   []string // empty means all configured apps
	Limit         int
}

func (e *Engine) Search(ctx context.Context, req Request) ([]RankedFunction, error) {
	if req.Limit <= 0 {
		req.Limit = 10
	}

	cacheKey := cacheKeyFor(req)
	if cached, ok := e.cache.Get(cacheKey); ok {
		e.logger.Printf("cache hit project=%s query=%q", req.ProjectID, req.Query)
		return truncate(cached, req.Limit), nil
	}

	lexical, err := e.store.SearchFunctionsByLexical(ctx, req.ProjectID, req.Query, e.prefilterN)
	if err != nil {
		return nil, fmt.Errorf("lexical prefilter: %w", err)
	}
	lexical = filterByApp(lexical, req.AllowedApps)
	if len(lexical) == 0 {
		return nil, nil
	}

	candidateIDs := make([]int64, len(lexical))
	for i, f := range lexical {
		candidateIDs[i] = f.ID
	}

	// preRerank holds whatever ordering we have before the LLM rerank
	// pass runs. A failure of the embedding call, the rerank call itself,
	// or its response parsing falls back to preRerank instead of failing
	// the search; a rerank outage must never take the search endpoint
	// down with it. A store error from the vector-rank query is returned.
	preRerank := toRanked(lexical)

	queryEmbedding, err := e.embedder.Embed(ctx, req.Query)
	if err != nil {
		e.logger.Printf("embed query failed, falling back to lexical order: %v", err)
		return truncate(preRerank, req.Limit), nil
	}

	vectorRanked, err := e.store.SearchFunctionsByEmbedding(ctx, req.ProjectID, queryEmbedding, candidateIDs, e.overfetch)
	if err != nil {
		return nil, fmt.Errorf("vector rank: %w", err)
	}
	preRerank = toRanked(vectorRanked)

	reranked, err := e.reranker.Rerank(ctx, req.Query, vectorRanked)
	if err != nil {
		e.logger.Printf("rerank failed, returning vector-ranked order unchanged: %v", err)
		return truncate(preRerank, req.Limit), nil
	}

	filtered := reranked[:0:0]
	for _, r := range reranked {
		if r.Score >= e.minScore {
			filtered = append(filtered, r)
		}
	}

	e.cache.Put(cacheKey, filtered)
	return truncate(filtered, req.Limit), nil
}

func toRanked(fns []catalog.Function) []RankedFunction {
	out := make([]RankedFunction, len(fns))
	for i, f := range fns {
		out[i] = RankedFunction{Function: f}
	}
	return out
}

func truncate(items []RankedFunction, limit int) []RankedFunction {
	if limit <= 0 || limit >= len(items) {
		return items
	}
	return items[:limit]
}

func filterByApp(fns []catalog.Function, allowed []string) []catalog.Function {
	if len(allowed) == 0 {
		return fns
	}
	set := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		set[a] = true
	}
	out := fns[:0:0]
	for _, f := range fns {
		if set[f.AppName] {
			out = append(out, f)
		}
	}
	return out
}

// cacheKeyFor hashes the fields that determine the rerank output: a
// project's allowed-app set changes the candidate pool, so it must be
// part of the key even though it's resolved outside this package.
func cacheKeyFor(req Request) string {
	h := sha256.New()
	h.Write([]byte(req.ProjectID))
	h.Write([]byte("|"))
	h.Write([]byte(req.Query))
	for _, a := range req.AllowedApps {
		h.Write([]byte("|"))
		h.Write([]byte(a))
	}
	return hex.EncodeToString(h.Sum(nil))
}
