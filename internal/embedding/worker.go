package embedding

import (
	"context"
	"log/slog"
	"time"
)

// MemoryRow is the minimal view of a memory the worker needs: enough to
// embed its content and to write the result back.
type MemoryRow struct {
	ID        string
	ProjectID string
	Content   string
}

// Store is the subset of storage.Store the worker depends on, kept
// narrow so this package has no import-time dependency on internal/storage.
type Store interface {
	PendingEmbeddingMemories(ctx context.Context, limit int) ([]MemoryRow, error)
	SetMemoryEmbedding(ctx context.Context, id string, vector []float32) (projectID string, err error)
}

// VectorUpserter is the subset of vectorstore.Store the worker needs.
type VectorUpserter interface {
	Upsert(ctx context.Context, id string, vector []float32, payload Payload) error
}

// Payload mirrors vectorstore.Payload; duplicated here (rather than
// imported) to keep this package's dependency graph one-directional —
// internal/engine adapts between the two at the wiring layer.
type Payload struct {
	ProjectID string
	Deleted   bool
}

// Worker periodically backfills embeddings for memories whose row was
// inserted with a NULL embedding (spec §4.6: store is best-effort at
// write time; the worker retries later, per-row failures don't block the
// rest of the batch).
type Worker struct {
	store    Store
	vectors  VectorUpserter
	embedder Embedder
	lock     WriteLocker
	interval time.Duration
	batch    int
	log      *slog.Logger
}

// WriteLocker is the subset of writelock.Lock the worker needs.
type WriteLocker interface {
	WithLock(ctx context.Context, timeout time.Duration, fn func() error) error
}

// NewWorker constructs a Worker. interval and batch fall back to the
// spec's defaults (30s, 20 rows) when zero.
func NewWorker(store Store, vectors VectorUpserter, embedder Embedder, lock WriteLocker, interval time.Duration, batch int, log *slog.Logger) *Worker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batch <= 0 {
		batch = 20
	}
	if log == nil {
		log = slog.Default()
	}
	return &Worker{store: store, vectors: vectors, embedder: embedder, lock: lock, interval: interval, batch: batch, log: log}
}

// Run loops until ctx is cancelled, running one pass per interval. It
// stops at the next iteration boundary on cancellation (spec §4.6:
// "no rollback needed — partial progress is durable").
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *Worker) runOnce(ctx context.Context) {
	rows, err := w.store.PendingEmbeddingMemories(ctx, w.batch)
	if err != nil {
		w.log.Error("embedding worker: list pending", "error", err)
		return
	}
	if len(rows) == 0 {
		return
	}

	var embedded, failed int
	for _, row := range rows {
		if err := w.embedOne(ctx, row); err != nil {
			failed++
			w.log.Warn("embedding worker: row failed", "memory_id", row.ID, "error", err)
			continue
		}
		embedded++
	}
	w.log.Info("embedding worker: pass complete", "embedded", embedded, "failed", failed, "batch", len(rows))
}

func (w *Worker) embedOne(ctx context.Context, row MemoryRow) error {
	ctx, cancel := context.WithTimeout(ctx, backoffDeadline)
	defer cancel()

	vector, err := w.embedder.Embed(ctx, row.Content)
	if err != nil {
		return err
	}

	var projectID string
	err = w.lock.WithLock(ctx, 10*time.Second, func() error {
		var lockErr error
		projectID, lockErr = w.store.SetMemoryEmbedding(ctx, row.ID, vector)
		return lockErr
	})
	if err != nil {
		return err
	}

	return w.vectors.Upsert(ctx, row.ID, vector, Payload{ProjectID: projectID})
}
