package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// RestoreReport summarizes one restore pass.
type RestoreReport struct {
	MemoriesRestored   int
	MemoriesSkipped    int
	EdgesRestored      int
	ScratchpadRestored int
}

// Restore loads the backup at path (a bare filename resolves under this
// Service's directory) and applies it under mode. Replace clears every
// memory/edge/scratchpad row first; merge keeps any row whose id already
// exists (spec §6). The embedding worker re-fills any memory restored
// without one on its next pass (spec §6: "after restore, missing
// embeddings are regenerated by the worker") — this function does not
// re-embed itself.
func (s *Service) Restore(ctx context.Context, path string, mode Mode) (*RestoreReport, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.dir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("backup: read document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("backup: parse document: %w", err)
	}

	if mode == ModeReplace {
		if err := s.store.ClearAllData(ctx); err != nil {
			return nil, fmt.Errorf("backup: clear store: %w", err)
		}
	}

	report := &RestoreReport{}
	for _, rec := range doc.Memories {
		m, err := fromRecord(rec)
		if err != nil {
			return report, err
		}
		if mode == ModeMerge {
			exists, err := s.store.MemoryExists(ctx, m.ID)
			if err != nil {
				return report, fmt.Errorf("backup: check memory collision: %w", err)
			}
			if exists {
				report.MemoriesSkipped++
				continue
			}
		}
		if err := s.store.RestoreMemory(ctx, m); err != nil {
			return report, fmt.Errorf("backup: restore memory %s: %w", m.ID, err)
		}
		report.MemoriesRestored++
	}

	for _, e := range doc.Edges {
		if mode == ModeMerge {
			exists, err := s.store.EdgeExists(ctx, e.ID)
			if err != nil {
				return report, fmt.Errorf("backup: check edge collision: %w", err)
			}
			if exists {
				continue
			}
		}
		if err := s.store.RestoreEdge(ctx, e); err != nil {
			return report, fmt.Errorf("backup: restore edge %s: %w", e.ID, err)
		}
		report.EdgesRestored++
	}

	for _, item := range doc.Scratchpad {
		if err := s.store.RestoreScratchpad(ctx, item); err != nil {
			return report, fmt.Errorf("backup: restore scratchpad %s/%s: %w", item.ProjectID, item.Key, err)
		}
		report.ScratchpadRestored++
	}

	return report, nil
}
