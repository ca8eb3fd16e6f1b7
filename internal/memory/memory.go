package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mnemex/mnemex/internal/apperr"
	"github.com/mnemex/mnemex/internal/contradiction"
	"github.com/mnemex/mnemex/internal/embedding"
	"github.com/mnemex/mnemex/internal/storage"
	"github.com/mnemex/mnemex/internal/types"
	"github.com/mnemex/mnemex/internal/vectorstore"
	"github.com/mnemex/mnemex/internal/writelock"
)

// lockTimeout bounds how long a CRUD call waits for the write lock before
// failing with apperr.LockTimeout.
const lockTimeout = 10 * time.Second

// Service implements spec §4.3's memory CRUD operations, wiring together
// storage, the vector index, the embedder, the write lock, and the
// contradiction engine.
type Service struct {
	store         *storage.Store
	vectors       vectorstore.Store
	embedder      embedding.Embedder
	lock          *writelock.Lock
	contradiction *contradiction.Engine
	log           *slog.Logger
}

// New constructs a Service. vectors may be nil (brute-force fallback only).
func New(store *storage.Store, vectors vectorstore.Store, embedder embedding.Embedder, lock *writelock.Lock, engine *contradiction.Engine, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, vectors: vectors, embedder: embedder, lock: lock, contradiction: engine, log: log}
}

// StoreInput is the Store operation's input.
type StoreInput struct {
	ProjectID  string
	Content    string
	Type       types.MemoryType
	Tags       []string
	Importance float64
	Confidence float64 // 0 means DefaultInitialConfidence
}

// StoreResult pairs the inserted memory with any contradictions detected
// against the target project (spec §4.3 "Store").
type StoreResult struct {
	Memory         *types.Memory
	Contradictions []types.ContradictionCandidate
}

// Store validates, embeds (best-effort), detects contradictions, inserts
// the row plus potential_contradiction edges under the write lock, then
// upserts the vector store outside it (spec §4.3 "Store").
func (s *Service) Store(ctx context.Context, in StoreInput) (*StoreResult, error) {
	if err := validateContent(in.Content); err != nil {
		return nil, err
	}
	if in.Type == "" {
		in.Type = types.TypeNote
	} else if !types.ValidMemoryTypes[in.Type] {
		return nil, apperr.Invalid("memory.Store", "type", fmt.Sprintf("unknown memory type %q", in.Type))
	}

	vec, embedErr := s.embedder.Embed(ctx, in.Content)
	if embedErr != nil {
		s.log.Warn("memory store: embed failed, inserting with null embedding", "error", embedErr)
		vec = nil
	}

	candidates, err := s.contradiction.Detect(ctx, in.ProjectID, in.Content, "", vec)
	if err != nil {
		return nil, fmt.Errorf("memory store: detect contradictions: %w", err)
	}

	baseConfidence := in.Confidence
	if baseConfidence <= 0 {
		baseConfidence = DefaultInitialConfidence
	}
	confidence := baseConfidence - ConfidencePenaltyPerContradiction*float64(len(candidates))
	if confidence < MinConfidenceAfterContradiction {
		confidence = MinConfidenceAfterContradiction
	}

	m := &types.Memory{
		ProjectID:          in.ProjectID,
		Content:            in.Content,
		Type:               in.Type,
		Tags:               types.NormalizeTags(in.Tags),
		Importance:         types.Clamp(in.Importance, 0, 1),
		Strength:           1.0,
		Confidence:         confidence,
		SourceCount:        1,
		ContradictionCount: len(candidates),
		Embedding:          vec,
	}

	err = s.lock.WithLock(ctx, lockTimeout, func() error {
		if err := s.store.CreateMemory(ctx, m); err != nil {
			return err
		}
		return s.contradiction.PersistContradictions(ctx, in.ProjectID, m.ID, candidates)
	})
	if err != nil {
		return nil, s.classifyLockErr("memory.Store", err)
	}

	if vec != nil && s.vectors != nil {
		if err := s.vectors.Upsert(ctx, m.ID, vec, vectorstore.Payload{ProjectID: m.ProjectID}); err != nil {
			s.log.Warn("memory store: vector upsert failed, embedding worker will not retry this path", "memory_id", m.ID, "error", err)
		}
	}

	return &StoreResult{Memory: m, Contradictions: candidates}, nil
}

// RecallResult pairs the enriched memory with its unresolved
// contradictions (spec §4.3 "Recall").
type RecallResult struct {
	Memory         *types.Memory
	Contradictions []*types.ContradictionResolution
}

// Recall reads a memory by id, bumping access_count/strength/confidence
// under the write lock (spec §4.3 "Recall").
func (s *Service) Recall(ctx context.Context, id string) (*RecallResult, error) {
	var m *types.Memory
	err := s.lock.WithLock(ctx, lockTimeout, func() error {
		row, err := s.store.GetMemory(ctx, id)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		newAccessCount := row.AccessCount + 1
		newStrength := RecallStrength(row.Strength, newAccessCount)
		newConfidence := types.Clamp(row.Confidence+RecentAccessBoost, 0, 1)
		if err := s.store.UpdateMemoryStats(ctx, id, newAccessCount, newStrength, newConfidence, now); err != nil {
			return err
		}
		row.AccessCount = newAccessCount
		row.Strength = newStrength
		row.Confidence = newConfidence
		row.LastAccessed = now
		m = row
		return nil
	})
	if err != nil {
		return nil, s.classifyLockErr("memory.Recall", err)
	}

	contradictions, err := s.store.ContradictionsForMemory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("memory recall: contradictions for memory: %w", err)
	}
	return &RecallResult{Memory: m, Contradictions: contradictions}, nil
}

// UpdateInput carries only the fields the caller wants to change; nil
// pointers (and a nil Tags slice) leave the existing value untouched.
type UpdateInput struct {
	Content    *string
	Type       *types.MemoryType
	Tags       []string
	Importance *float64
}

// Update applies in to memory id. If Content changes, the embedding is
// regenerated and contradiction detection re-run excluding self (spec
// §4.3 "Update").
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*StoreResult, error) {
	var m *types.Memory
	var candidates []types.ContradictionCandidate
	var newVec []float32
	var contentChanged bool

	err := s.lock.WithLock(ctx, lockTimeout, func() error {
		row, err := s.store.GetMemory(ctx, id)
		if err != nil {
			return err
		}
		if in.Content != nil && *in.Content != row.Content {
			if err := validateContent(*in.Content); err != nil {
				return err
			}
			contentChanged = true
			row.Content = *in.Content
		}
		if in.Type != nil {
			if !types.ValidMemoryTypes[*in.Type] {
				return apperr.Invalid("memory.Update", "type", fmt.Sprintf("unknown memory type %q", *in.Type))
			}
			row.Type = *in.Type
		}
		if in.Tags != nil {
			row.Tags = types.NormalizeTags(in.Tags)
		}
		if in.Importance != nil {
			row.Importance = types.Clamp(*in.Importance, 0, 1)
		}

		if contentChanged {
			vec, embedErr := s.embedder.Embed(ctx, row.Content)
			if embedErr != nil {
				s.log.Warn("memory update: embed failed, clearing embedding for worker retry", "error", embedErr)
				vec = nil
			}
			newVec = vec

			found, err := s.contradiction.Detect(ctx, row.ProjectID, row.Content, id, vec)
			if err != nil {
				return fmt.Errorf("memory update: detect contradictions: %w", err)
			}
			candidates = found
			row.ContradictionCount = len(found)
		}

		row.Strength = types.Clamp(row.Strength, MinStrength, MaxStrength)
		row.Confidence = types.Clamp(row.Confidence, 0, 1)

		if err := s.store.UpdateMemory(ctx, row); err != nil {
			return err
		}
		if contentChanged {
			if newVec != nil {
				if _, err := s.store.SetMemoryEmbedding(ctx, id, newVec); err != nil {
					return err
				}
			} else if err := s.store.ClearMemoryEmbedding(ctx, id); err != nil {
				return err
			}
			if err := s.contradiction.PersistContradictions(ctx, row.ProjectID, id, candidates); err != nil {
				return err
			}
		}
		m = row
		return nil
	})
	if err != nil {
		return nil, s.classifyLockErr("memory.Update", err)
	}

	if contentChanged && newVec != nil && s.vectors != nil {
		if err := s.vectors.Upsert(ctx, id, newVec, vectorstore.Payload{ProjectID: m.ProjectID}); err != nil {
			s.log.Warn("memory update: vector upsert failed", "memory_id", id, "error", err)
		}
	}

	return &StoreResult{Memory: m, Contradictions: candidates}, nil
}

// Delete soft-deletes by default; permanent=true removes the row and its
// adjacent edges (spec §4.3 "Delete").
func (s *Service) Delete(ctx context.Context, id string, permanent bool) error {
	err := s.lock.WithLock(ctx, lockTimeout, func() error {
		if permanent {
			return s.store.PermanentlyDeleteMemory(ctx, id)
		}
		return s.store.DeleteMemory(ctx, id, time.Now().UTC())
	})
	if err != nil {
		return s.classifyLockErr("memory.Delete", err)
	}
	if s.vectors != nil {
		if err := s.vectors.Delete(ctx, id); err != nil {
			s.log.Warn("memory delete: vector delete failed, consolidation will retry", "memory_id", id, "error", err)
		}
	}
	return nil
}

func validateContent(content string) error {
	if content == "" {
		return apperr.Invalid("memory", "content", "content must not be empty")
	}
	if len(content) > types.MaxContentBytes {
		return apperr.Invalid("memory", "content", "content exceeds max length")
	}
	return nil
}

func (s *Service) classifyLockErr(op string, err error) error {
	if err == writelock.ErrTimeout {
		return apperr.New(apperr.LockTimeout, op, err)
	}
	return err
}
