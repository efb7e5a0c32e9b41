// Package loom provides a persistent session-memory registry for AI
// assistants: decisions and open threads survive context compression by
// being synced into a content-addressed store with conflict detection and
// session lineage tracking.
package loom

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dan-solli/loom/pkg/conflict"
	"github.com/dan-solli/loom/pkg/embeddings"
	"github.com/dan-solli/loom/pkg/lineage"
	"github.com/dan-solli/loom/pkg/metrics"
	"github.com/dan-solli/loom/pkg/registry"
	"github.com/dan-solli/loom/pkg/store"
	"github.com/dan-solli/loom/pkg/trace"
)

// Config holds configuration for the Loom system
type Config struct {
	// Path to the SQLite database file (":memory:" for in-memory)
	DBPath string

	// OpenAI API key for embeddings
	OpenAIKey string

	// Embedding model (default: "text-embedding-3-small")
	EmbeddingModel string

	// Ollama base URL; when set, Ollama is used instead of OpenAI
	OllamaURL string

	// Embeddings overrides the built-in clients entirely when set
	Embeddings embeddings.Client

	// Cosine similarity above which two active entities conflict
	// (default: 0.85)
	SimilarityThreshold float64

	// Confidence gap above which shared-reference entities diverge
	// (default: 0.2)
	TierDelta float64

	// Confidence gap above which same-project conflicts auto-resolve
	// (default: 0.4)
	AutoResolveGap float64

	// Sync cycles without a mention before an entity counts as stale
	// (default: 3)
	StaleHops int

	// Wall-clock age since last validation before an entity counts as
	// stale (default: 30 days)
	StaleAge time.Duration

	// Maximum lineage traversal depth (default: 10)
	TraceDepth int
}

// Loom is the main entry point for the memory system
type Loom struct {
	config   Config
	store    *store.SQLiteStore
	registry *registry.Registry
	detector *conflict.Detector
	graph    *lineage.Graph
	embed    embeddings.Client

	logger  *slog.Logger
	metrics metrics.Collector
	tracer  trace.Exporter
}

// New creates a new Loom instance
func New(cfg Config) (*Loom, error) {
	// Apply defaults
	if cfg.DBPath == "" {
		cfg.DBPath = "loom.db"
	}
	if cfg.SimilarityThreshold == 0 {
		cfg.SimilarityThreshold = conflict.DefaultSimilarityThreshold
	}
	if cfg.TierDelta == 0 {
		cfg.TierDelta = conflict.DefaultTierDelta
	}
	if cfg.AutoResolveGap == 0 {
		cfg.AutoResolveGap = conflict.DefaultAutoResolveGap
	}
	if cfg.StaleHops == 0 {
		cfg.StaleHops = 3
	}
	if cfg.StaleAge == 0 {
		cfg.StaleAge = 30 * 24 * time.Hour
	}
	if cfg.TraceDepth == 0 {
		cfg.TraceDepth = lineage.DefaultDepth
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	embedClient := cfg.Embeddings
	if embedClient == nil {
		if cfg.OllamaURL != "" {
			embedClient = embeddings.NewOllamaClient(cfg.OllamaURL, cfg.EmbeddingModel)
		} else {
			openai := embeddings.NewOpenAIClient(cfg.OpenAIKey)
			if cfg.EmbeddingModel != "" {
				openai.Model = cfg.EmbeddingModel
			}
			embedClient = openai
		}
	}

	det := conflict.New(st, st, embedClient)
	det.SimilarityThreshold = cfg.SimilarityThreshold
	det.TierDelta = cfg.TierDelta

	return &Loom{
		config:   cfg,
		store:    st,
		registry: registry.New(st, det),
		detector: det,
		graph:    lineage.New(st),
		embed:    embedClient,
		metrics:  metrics.NewNoopCollector(),
		tracer:   trace.NewNoopExporter(),
	}, nil
}

// WithLogger attaches a structured logger and returns the same instance for
// chaining. Safe to skip entirely; all logging is nil-safe.
func (l *Loom) WithLogger(logger *slog.Logger) *Loom {
	l.logger = logger
	l.log().Info("loom configured",
		"db_path", l.config.DBPath,
		"similarity_threshold", l.config.SimilarityThreshold,
		"tier_delta", l.config.TierDelta,
		"auto_resolve_gap", l.config.AutoResolveGap,
		"stale_hops", l.config.StaleHops,
		"trace_depth", l.config.TraceDepth,
	)
	return l
}

// WithMetrics attaches a metrics collector and returns the same instance.
func (l *Loom) WithMetrics(collector metrics.Collector) *Loom {
	if collector != nil {
		l.metrics = collector
	}
	return l
}

// WithTracer attaches an audit exporter and returns the same instance.
func (l *Loom) WithTracer(exporter trace.Exporter) *Loom {
	if exporter != nil {
		l.tracer = exporter
	}
	return l
}

// Registry returns the entity lifecycle engine.
func (l *Loom) Registry() *registry.Registry {
	return l.registry
}

// Graph returns the session lineage graph.
func (l *Loom) Graph() *lineage.Graph {
	return l.graph
}

// Store returns the underlying store for advanced operations.
func (l *Loom) Store() *store.SQLiteStore {
	return l.store
}

// Close releases the store and flushes the audit exporter.
func (l *Loom) Close() error {
	traceErr := l.tracer.Close()
	if err := l.store.Close(); err != nil {
		return err
	}
	return traceErr
}

// log returns the configured logger or a discard logger when none is set.
func (l *Loom) log() *slog.Logger {
	if l.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return l.logger
}
