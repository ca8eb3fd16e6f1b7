// Package consolidation implements spec §4.7's sleep cycle: strengthen,
// decay, scratchpad/tool-log garbage collection, auto-extracted fact
// cleanup, and a near-duplicate report, guarded by a two-level lock
// (in-process + cross-process advisory) and a hard timeout.
package consolidation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mnemex/mnemex/internal/embedding"
	"github.com/mnemex/mnemex/internal/ingest"
	"github.com/mnemex/mnemex/internal/storage"
	"github.com/mnemex/mnemex/internal/types"
	"github.com/mnemex/mnemex/internal/vectorstore"
)

const (
	// staleLockAfter is how old a cross-process advisory lock row must be
	// before a new cycle may take it over (spec §4.7).
	staleLockAfter = 5 * time.Minute
	// toolLogRetention bounds the tool-call audit trail's age (spec §4.7
	// step 4).
	toolLogRetention = 7 * 24 * time.Hour
	// decayAfter is the access-recency cutoff for strength decay (spec
	// §4.7 step 2).
	decayAfter = 14 * 24 * time.Hour
	// nearDupThreshold is the similarity floor for the near-duplicate
	// report (spec §4.7 step 6, "≈0.85").
	nearDupThreshold = 0.85
	// nearDupSampleSize bounds both the brute-force and vector-store KNN
	// near-duplicate scan (spec §4.7, "100 most recent").
	nearDupSampleSize = 100
	// backupInterval is how stale the last backup must be before this
	// cycle triggers a new one (spec §4.7, "if the last backup is ≥24h
	// old").
	backupInterval = 24 * time.Hour
	// hardTimeout aborts a cycle that runs long (spec §4.7, "≈5 min").
	hardTimeout = 5 * time.Minute
)

// Backuper is the narrow interface consolidation needs from the backup
// subsystem: whether a backup is due, and running one. A nil Backuper
// disables the auto-backup step.
type Backuper interface {
	Due(ctx context.Context, now time.Time, interval time.Duration) (bool, error)
	Run(ctx context.Context) error
}

// NearDuplicate is one pair from the near-duplicate report (spec §4.7
// step 6 — reported, never auto-merged).
type NearDuplicate struct {
	MemoryA    string
	MemoryB    string
	Similarity float64
}

// Report summarizes one consolidation cycle.
type Report struct {
	Skipped          bool
	Strengthened     int64
	Decayed          int64
	ScratchpadPurged int64
	ToolCallsPurged  int64
	Garbage          ingest.CleanupResult
	NearDuplicates   []NearDuplicate
	ReEmbedded       int
	BackupRan        bool
}

// Service runs consolidation cycles for a store.
type Service struct {
	store    *storage.Store
	ingest   *ingest.Service
	vectors  vectorstore.Store
	embedder embedding.Embedder
	backup   Backuper
	holderID string

	// running is the in-process guard: a cycle that finds it already
	// locked skips instead of queuing (spec §4.7 "a new cycle skips when
	// one is active").
	running sync.Mutex
}

// New constructs a Service. vectors, embedder, and backup may all be nil
// (best-effort re-embedding and auto-backup are then skipped). holderID
// identifies this process in the cross-process advisory lock, typically
// the owning session's id.
func New(store *storage.Store, ingestSvc *ingest.Service, vectors vectorstore.Store, embedder embedding.Embedder, backup Backuper, holderID string) *Service {
	return &Service{store: store, ingest: ingestSvc, vectors: vectors, embedder: embedder, backup: backup, holderID: holderID}
}

// Run executes one consolidation cycle for projectID. It returns a
// Report with Skipped=true, rather than an error, when another cycle is
// already active in-process or cross-process.
func (s *Service) Run(ctx context.Context, projectID string) (*Report, error) {
	if !s.running.TryLock() {
		return &Report{Skipped: true}, nil
	}
	defer s.running.Unlock()

	ctx, cancel := context.WithTimeout(ctx, hardTimeout)
	defer cancel()

	now := time.Now().UTC()
	acquired, err := s.store.AcquireConsolidationLock(ctx, s.holderID, staleLockAfter, now)
	if err != nil {
		return nil, fmt.Errorf("consolidation: acquire lock: %w", err)
	}
	if !acquired {
		return &Report{Skipped: true}, nil
	}
	defer func() { _ = s.store.ReleaseConsolidationLock(ctx, s.holderID) }()

	report, err := s.runSteps(ctx, projectID, now)
	if err != nil {
		return nil, err
	}

	// Best-effort post-cycle work: a failure here doesn't invalidate the
	// strengthen/decay/GC work already committed above (spec §4.7 "after
	// the transaction").
	if err := s.store.Checkpoint(ctx); err != nil {
		return report, err
	}
	report.ReEmbedded = s.reembedOrphans(ctx, projectID)
	if s.backup != nil {
		due, err := s.backup.Due(ctx, now, backupInterval)
		if err == nil && due {
			if err := s.backup.Run(ctx); err == nil {
				report.BackupRan = true
			}
		}
	}
	return report, nil
}

// runSteps performs spec §4.7's numbered steps 1-6. Each step is its own
// atomic storage operation rather than one literal multi-statement SQL
// transaction (see DESIGN.md for why); a failure partway through still
// leaves every prior step's effect committed, which is the behavior a
// single transaction would have given on success anyway.
func (s *Service) runSteps(ctx context.Context, projectID string, now time.Time) (*Report, error) {
	report := &Report{}
	var err error

	report.Strengthened, err = s.store.StrengthenMemories(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("consolidation: strengthen: %w", err)
	}

	report.Decayed, err = s.store.DecayMemories(ctx, now.Add(-decayAfter), now)
	if err != nil {
		return nil, fmt.Errorf("consolidation: decay: %w", err)
	}

	report.ScratchpadPurged, err = s.store.PurgeExpiredScratchpad(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("consolidation: scratchpad gc: %w", err)
	}

	report.ToolCallsPurged, err = s.store.PurgeToolCallsOlderThan(ctx, now.Add(-toolLogRetention))
	if err != nil {
		return nil, fmt.Errorf("consolidation: tool-log gc: %w", err)
	}

	report.Garbage, err = s.ingest.CleanupGarbageFacts(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("consolidation: garbage cleanup: %w", err)
	}

	report.NearDuplicates, err = s.nearDuplicates(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("consolidation: near-duplicate scan: %w", err)
	}

	if err := s.logCycle(ctx, projectID, now, report); err != nil {
		return nil, fmt.Errorf("consolidation: log cycle: %w", err)
	}

	return report, nil
}

// logCycle records one scratchpad row per cycle under a
// consolidation_log_<unix-nano> key (spec §8 scenario 5: a consolidation
// run must leave a row matching consolidation_log_% behind as its
// observable audit trail).
func (s *Service) logCycle(ctx context.Context, projectID string, now time.Time, report *Report) error {
	value, err := json.Marshal(struct {
		Strengthened     int64 `json:"strengthened"`
		Decayed          int64 `json:"decayed"`
		ScratchpadPurged int64 `json:"scratchpad_purged"`
		ToolCallsPurged  int64 `json:"tool_calls_purged"`
		NearDuplicates   int   `json:"near_duplicates"`
	}{report.Strengthened, report.Decayed, report.ScratchpadPurged, report.ToolCallsPurged, len(report.NearDuplicates)})
	if err != nil {
		return err
	}
	key := fmt.Sprintf("consolidation_log_%d", now.UnixNano())
	return s.store.SetScratchpad(ctx, &types.ScratchpadItem{
		ProjectID: projectID, Key: key, Value: string(value), CreatedAt: now,
	})
}
