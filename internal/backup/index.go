package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/BurntSushi/toml"
)

// indexFileName is the manifest's name within the backups directory
// (SPEC_FULL.md's backups/index.toml supplement over spec §6).
const indexFileName = "index.toml"

// IndexEntry describes one backup in the manifest.
type IndexEntry struct {
	Path      string    `toml:"path"`
	CreatedAt time.Time `toml:"created_at"`
	SizeBytes int64     `toml:"size_bytes"`
	SHA256    string    `toml:"sha256"`
}

type indexFile struct {
	Backups []IndexEntry `toml:"backups"`
}

func (s *Service) indexPath() string {
	return filepath.Join(s.dir, indexFileName)
}

func (s *Service) readIndex() (indexFile, error) {
	var idx indexFile
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return idx, fmt.Errorf("backup: read index: %w", err)
	}
	if _, err := toml.Decode(string(data), &idx); err != nil {
		return indexFile{}, fmt.Errorf("backup: decode index: %w", err)
	}
	return idx, nil
}

func (s *Service) appendIndex(entry IndexEntry) error {
	idx, err := s.readIndex()
	if err != nil {
		return err
	}
	idx.Backups = append(idx.Backups, entry)

	f, err := os.Create(s.indexPath())
	if err != nil {
		return fmt.Errorf("backup: create index: %w", err)
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(idx)
}

// List returns every known backup, newest first. It reads the index
// manifest first; if the manifest is missing or names a file that no
// longer exists on disk, it falls back to globbing the directory for
// backup-*.json so a hand-deleted or externally-copied index never
// hides real backups (SPEC_FULL.md's open-question resolution — the
// spec names the JSON document and directory convention but not how a
// caller enumerates existing backups).
func (s *Service) List(ctx context.Context) ([]IndexEntry, error) {
	idx, err := s.readIndex()
	if err != nil {
		return nil, err
	}

	stale := len(idx.Backups) == 0
	for _, e := range idx.Backups {
		if _, err := os.Stat(filepath.Join(s.dir, e.Path)); err != nil {
			stale = true
			break
		}
	}
	if !stale {
		sortEntriesDesc(idx.Backups)
		return idx.Backups, nil
	}

	matches, err := filepath.Glob(filepath.Join(s.dir, "backup-*.json"))
	if err != nil {
		return nil, fmt.Errorf("backup: glob directory: %w", err)
	}
	entries := make([]IndexEntry, 0, len(matches))
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil {
			continue
		}
		entries = append(entries, IndexEntry{
			Path: filepath.Base(m), CreatedAt: fi.ModTime(), SizeBytes: fi.Size(),
		})
	}
	sortEntriesDesc(entries)
	return entries, nil
}

func sortEntriesDesc(entries []IndexEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.After(entries[j].CreatedAt) })
}
