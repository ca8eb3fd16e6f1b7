// Package engine wires every internal/ service into one long-lived value
// (spec §9 "no global mutable state"): it is the only place in the repo
// that constructs a *storage.Store, a vectorstore.Store, an embedder, and
// every service layered on top of them, then hands the result to
// internal/dispatch as a dispatch.Impl. cmd/mnemexd and cmd/mnemexctl are
// the only callers.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mnemex/mnemex/internal/backup"
	"github.com/mnemex/mnemex/internal/config"
	"github.com/mnemex/mnemex/internal/consolidation"
	"github.com/mnemex/mnemex/internal/contradiction"
	"github.com/mnemex/mnemex/internal/dispatch"
	"github.com/mnemex/mnemex/internal/embedding"
	"github.com/mnemex/mnemex/internal/graph"
	"github.com/mnemex/mnemex/internal/ingest"
	"github.com/mnemex/mnemex/internal/memory"
	"github.com/mnemex/mnemex/internal/nli"
	"github.com/mnemex/mnemex/internal/scheduler"
	"github.com/mnemex/mnemex/internal/scratchpad"
	"github.com/mnemex/mnemex/internal/search"
	"github.com/mnemex/mnemex/internal/session"
	"github.com/mnemex/mnemex/internal/storage"
	"github.com/mnemex/mnemex/internal/vectorstore"
)

// Engine bundles the storage and vector-store handles an operator needs
// for lifecycle calls (checkpoint, close) that sit outside the tool
// surface dispatch.Impl exposes.
type Engine struct {
	Store   *storage.Store
	Vectors vectorstore.Store
	Session *session.Session
	Log     *slog.Logger

	Dispatch *dispatch.Impl

	embedWorker *embedding.Worker
}

// New opens the store, the configured vector backend, and every service
// layered on top, returning a ready Engine. Callers must call Close (or
// Shutdown, to additionally clear session state) when done.
func New(ctx context.Context, cfg *config.Config, projectID string, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}

	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("engine: open store: %w", err)
	}

	vectors, err := newVectorStore(ctx, cfg, store, log)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("engine: open vector store: %w", err)
	}

	embedder := newEmbedder(cfg)
	lock := store.WriteLock

	classifier := nli.Classifier(nli.Noop{})

	contradictionEngine := contradiction.New(store, vectors, embedder, classifier)
	memorySvc := memory.New(store, vectors, embedder, lock, contradictionEngine, log)
	searchEngine := search.New(store, vectors, embedder)
	graphSvc := graph.New(store)
	scratchSvc := scratchpad.New(store)
	schedulerSvc := scheduler.New(store)
	ingestSvc := ingest.New(store)
	backupSvc := backup.New(store, cfg.BackupDir)
	sess := session.New(store, projectID)
	consolidationSvc := consolidation.New(store, ingestSvc, vectors, embedder, backupSvc, sess.ID())

	worker := embedding.NewWorker(storeAdapter{store}, vectorAdapter{vectors}, embedder, lock,
		cfg.EmbeddingWorkerInterval, cfg.EmbeddingWorkerBatch, log)

	impl := &dispatch.Impl{
		Store:         store,
		Vectors:       vectors,
		Memory:        memorySvc,
		Search:        searchEngine,
		Graph:         graphSvc,
		Scratchpad:    scratchSvc,
		Scheduler:     schedulerSvc,
		Contradiction: contradictionEngine,
		Consolidation: consolidationSvc,
		Backup:        backupSvc,
		Ingest:        ingestSvc,
		Session:       sess,
		Log:           log,
	}
	impl.SetActiveProject(projectID)

	return &Engine{
		Store:       store,
		Vectors:     vectors,
		Session:     sess,
		Log:         log,
		Dispatch:    impl,
		embedWorker: worker,
	}, nil
}

// Run starts the background embedding-backfill worker (spec §4.6) and
// blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.embedWorker.Run(ctx)
}

// IdleConsolidationLoop triggers a consolidation cycle once the session
// has been idle for cfg.ConsolidationIdleAfter, then at most every
// cfg.ConsolidationInterval thereafter, until ctx is cancelled (spec §4.7
// "sleep cycle" trigger condition). cmd/mnemexd runs this as a goroutine
// alongside Run and the dispatch loop.
func (e *Engine) IdleConsolidationLoop(ctx context.Context, projectID string, idleAfter, interval time.Duration) {
	timer := time.NewTimer(idleAfter)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if _, err := e.Dispatch.Consolidation.Run(ctx, projectID); err != nil {
				e.Log.Warn("engine: idle consolidation cycle failed", "error", err)
			}
			timer.Reset(interval)
		}
	}
}

// Shutdown clears session state, closes the vector store, and checkpoints
// the WAL (spec §4.8's clean-shutdown path; a future Start will not see a
// crash report if this runs to completion).
func (e *Engine) Shutdown(ctx context.Context) error {
	return e.Session.Shutdown(ctx, e.Vectors)
}

// Close releases the store without touching session state; used when a
// clean Shutdown already ran or a short-lived process (e.g. mnemexctl)
// never called session.Start.
func (e *Engine) Close() error {
	return e.Store.Close()
}

func newEmbedder(cfg *config.Config) embedding.Embedder {
	if cfg.EmbeddingAPIKey == "" {
		return embedding.NewLocal(cfg.EmbeddingDim)
	}
	return embedding.NewRemote(embedding.RemoteConfig{
		APIKey:  cfg.EmbeddingAPIKey,
		BaseURL: cfg.EmbeddingBaseURL,
		Model:   cfg.EmbeddingModel,
		Dim:     cfg.EmbeddingDim,
	})
}

func newVectorStore(ctx context.Context, cfg *config.Config, store *storage.Store, log *slog.Logger) (vectorstore.Store, error) {
	embedded, err := vectorstore.NewEmbedded(ctx, store.DB(), cfg.EmbeddingDim)
	if err != nil {
		return nil, err
	}
	if cfg.VectorBackend != "sidecar" {
		return embedded, nil
	}

	var cmd []string
	if cfg.VectorSidecarBinary != "" {
		cmd = []string{cfg.VectorSidecarBinary, "--port", fmt.Sprint(cfg.VectorSidecarPort)}
	}
	sidecar, err := vectorstore.NewSidecar(ctx, vectorstore.SidecarConfig{
		Addr:           fmt.Sprintf("127.0.0.1:%d", cfg.VectorSidecarPort),
		Command:        cmd,
		StartupTimeout: 10 * time.Second,
	})
	if err != nil {
		log.Warn("engine: sidecar vector store unavailable at startup, falling back to embedded", "error", err)
		return embedded, nil
	}
	return vectorstore.NewManager(sidecar, embedded, log), nil
}
