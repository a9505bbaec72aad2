// Package docsearch searches an Elasticsearch index of extracted
// documents and page image descriptions.
package docsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/nugget/docent/internal/httpkit"
)

// Defaults for Config and Options.
const (
	DefaultIndex       = "documents"
	DefaultInferenceID = "my-embedding-model"
	DefaultTopK        = 10
	DefaultMinScore    = 0.5
)

// Config describes the Elasticsearch deployment.
type Config struct {
	URL         string
	APIKey      string
	Index       string
	InferenceID string
	Timeout     time.Duration
	Logger      *slog.Logger
}

// ConfigFromEnv reads ELASTIC_URL, ELASTIC_API_KEY, ELASTIC_INDEX and
// INFERENCE_ID through getenv.
func ConfigFromEnv(getenv func(string) string) (Config, error) {
	cfg := Config{
		URL:         getenv("ELASTIC_URL"),
		APIKey:      getenv("ELASTIC_API_KEY"),
		Index:       getenv("ELASTIC_INDEX"),
		InferenceID: getenv("INFERENCE_ID"),
	}
	if cfg.URL == "" || cfg.APIKey == "" {
		return cfg, errors.New("ELASTIC_URL and ELASTIC_API_KEY must be set")
	}
	if v := getenv("ELASTIC_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("ELASTIC_TIMEOUT: %w", err)
		}
		cfg.Timeout = d
	}
	return cfg, nil
}

// Options tune one search.
type Options struct {
	TopK     int
	MinScore float64
}

func (o *Options) applyDefaults() {
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.MinScore < 0 {
		o.MinScore = DefaultMinScore
	}
}

// Searcher runs hybrid searches against one index.
type Searcher struct {
	es          *elasticsearch.Client
	index       string
	inferenceID string
	logger      *slog.Logger
}

// New creates a Searcher. It does not contact the cluster; use Ping.
func New(cfg Config) (*Searcher, error) {
	if cfg.Index == "" {
		cfg.Index = DefaultIndex
	}
	if cfg.InferenceID == "" {
		cfg.InferenceID = DefaultInferenceID
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := httpkit.NewClient(
		httpkit.WithTimeout(cfg.Timeout),
		httpkit.WithDialRetry(2, time.Second),
		httpkit.WithLogger(logger),
	)

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		APIKey:    cfg.APIKey,
		Transport: client.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	return &Searcher{
		es:          es,
		index:       cfg.Index,
		inferenceID: cfg.InferenceID,
		logger:      logger.With("component", "docsearch", "index", cfg.Index),
	}, nil
}

// Ping checks that the cluster is reachable.
func (s *Searcher) Ping(ctx context.Context) error {
	res, err := s.es.Ping(s.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer httpkit.DrainAndClose(res.Body, 64*1024)
	if res.IsError() {
		return fmt.Errorf("ping elasticsearch: status %d", res.StatusCode)
	}
	return nil
}

// Search runs the hybrid query for question and returns hits in
// relevance order.
func (s *Searcher) Search(ctx context.Context, question string, opts Options) ([]Result, error) {
	opts.applyDefaults()

	body, err := json.Marshal(buildQuery(question, opts, s.inferenceID))
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	start := time.Now()
	res, err := s.es.Search(
		s.es.Search.WithContext(ctx),
		s.es.Search.WithIndex(s.index),
		s.es.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("search: %s", errorReason(res.StatusCode, res.Body))
	}

	results, err := parseResponse(res.Body)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("search complete",
		"question_len", len(question),
		"top_k", opts.TopK,
		"hits", len(results),
		"elapsed", time.Since(start),
	)
	return results, nil
}

// errorReason pulls the root cause out of an Elasticsearch error body.
func errorReason(status int, body io.Reader) string {
	var e struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(body, 64*1024))
	if json.Unmarshal(raw, &e) == nil && e.Error.Reason != "" {
		return fmt.Sprintf("status %d: %s: %s", status, e.Error.Type, e.Error.Reason)
	}
	return "status " + strconv.Itoa(status) + ": " + string(bytes.TrimSpace(raw))
}
