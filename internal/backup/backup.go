// Package backup implements spec §6's backup/restore pair: a JSON
// document (memories, edges, scratchpad, optionally base64 embeddings)
// written under a backups directory, indexed by a small TOML manifest
// so callers can enumerate backups without re-globbing the directory.
package backup

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/mnemex/mnemex/internal/apperr"
	"github.com/mnemex/mnemex/internal/storage"
	"github.com/mnemex/mnemex/internal/types"
)

// DocumentVersion is the backup document's schema version (spec §6).
const DocumentVersion = 1

// Mode selects restore collision behavior (spec §6).
type Mode string

const (
	ModeMerge   Mode = "merge"   // keep existing on id collision
	ModeReplace Mode = "replace" // clear the store first
)

// MemoryRecord mirrors types.Memory for the wire document, with the
// embedding optionally base64-encoded instead of a raw float array
// (spec §6: "optional base64-encoded embeddings").
type MemoryRecord struct {
	ID                 string           `json:"id"`
	ProjectID          string           `json:"project_id"`
	Content            string           `json:"content"`
	Type               types.MemoryType `json:"type"`
	Tags               []string         `json:"tags"`
	Importance         float64          `json:"importance"`
	Strength           float64          `json:"strength"`
	AccessCount        int              `json:"access_count"`
	Confidence         float64          `json:"confidence"`
	SourceCount        int              `json:"source_count"`
	ContradictionCount int              `json:"contradiction_count"`
	CreatedAt          time.Time        `json:"created_at"`
	LastAccessed       time.Time        `json:"last_accessed"`
	UpdatedAt          time.Time        `json:"updated_at"`
	Embedding          *string          `json:"embedding,omitempty"`
}

// Document is the backup's wire shape (spec §6).
type Document struct {
	Version    int                     `json:"version"`
	CreatedAt  time.Time               `json:"created_at"`
	Memories   []MemoryRecord          `json:"memories"`
	Edges      []*types.Edge           `json:"edges"`
	Scratchpad []*types.ScratchpadItem `json:"scratchpad"`
}

// Service creates and restores backups for one data directory's store.
type Service struct {
	store *storage.Store
	dir   string
}

// New constructs a Service. dir is the backups directory (spec §6:
// "<data>/backups"); it is created on first Create if missing.
func New(store *storage.Store, dir string) *Service {
	return &Service{store: store, dir: dir}
}

func toRecord(m *types.Memory) MemoryRecord {
	r := MemoryRecord{
		ID: m.ID, ProjectID: m.ProjectID, Content: m.Content, Type: m.Type,
		Tags: m.Tags, Importance: m.Importance, Strength: m.Strength,
		AccessCount: m.AccessCount, Confidence: m.Confidence,
		SourceCount: m.SourceCount, ContradictionCount: m.ContradictionCount,
		CreatedAt: m.CreatedAt, LastAccessed: m.LastAccessed, UpdatedAt: m.UpdatedAt,
	}
	if len(m.Embedding) > 0 {
		enc := base64.StdEncoding.EncodeToString(floatsToBytes(m.Embedding))
		r.Embedding = &enc
	}
	return r
}

func fromRecord(r MemoryRecord) (*types.Memory, error) {
	m := &types.Memory{
		ID: r.ID, ProjectID: r.ProjectID, Content: r.Content, Type: r.Type,
		Tags: r.Tags, Importance: r.Importance, Strength: r.Strength,
		AccessCount: r.AccessCount, Confidence: r.Confidence,
		SourceCount: r.SourceCount, ContradictionCount: r.ContradictionCount,
		CreatedAt: r.CreatedAt, LastAccessed: r.LastAccessed, UpdatedAt: r.UpdatedAt,
	}
	if r.Embedding != nil {
		raw, err := base64.StdEncoding.DecodeString(*r.Embedding)
		if err != nil {
			return nil, apperr.New(apperr.InvalidInput, "backup: decode embedding", err)
		}
		m.Embedding = bytesToFloats(raw)
	}
	return m, nil
}

// Create snapshots the whole store into a new backup document, writes it
// to <dir>/backup-<ISO-timestamp>.json, and appends an entry to the
// index manifest. Returns the path written.
func (s *Service) Create(ctx context.Context) (string, error) {
	memories, err := s.store.AllMemories(ctx)
	if err != nil {
		return "", fmt.Errorf("backup: list memories: %w", err)
	}
	edges, err := s.store.AllEdges(ctx)
	if err != nil {
		return "", fmt.Errorf("backup: list edges: %w", err)
	}
	scratchpad, err := s.store.AllScratchpad(ctx)
	if err != nil {
		return "", fmt.Errorf("backup: list scratchpad: %w", err)
	}

	doc := Document{
		Version:    DocumentVersion,
		CreatedAt:  time.Now().UTC(),
		Memories:   make([]MemoryRecord, len(memories)),
		Edges:      edges,
		Scratchpad: scratchpad,
	}
	for i, m := range memories {
		doc.Memories[i] = toRecord(m)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("backup: marshal document: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("backup: create directory: %w", err)
	}
	name := fmt.Sprintf("backup-%s.json", doc.CreatedAt.Format("20060102T150405Z"))
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("backup: write document: %w", err)
	}

	sum := sha256.Sum256(data)
	entry := IndexEntry{
		Path:      name,
		CreatedAt: doc.CreatedAt,
		SizeBytes: int64(len(data)),
		SHA256:    hex.EncodeToString(sum[:]),
	}
	if err := s.appendIndex(entry); err != nil {
		return path, fmt.Errorf("backup: update index: %w", err)
	}
	return path, nil
}

// Run implements consolidation.Backuper.
func (s *Service) Run(ctx context.Context) error {
	_, err := s.Create(ctx)
	return err
}

// Due implements consolidation.Backuper: a backup is due when none
// exists yet, or the most recent one is older than interval.
func (s *Service) Due(ctx context.Context, now time.Time, interval time.Duration) (bool, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return false, err
	}
	if len(entries) == 0 {
		return true, nil
	}
	latest := entries[0].CreatedAt
	for _, e := range entries[1:] {
		if e.CreatedAt.After(latest) {
			latest = e.CreatedAt
		}
	}
	return now.Sub(latest) >= interval, nil
}

// floatsToBytes/bytesToFloats duplicate internal/storage's little-endian
// embedding encoding (spec §3) so this package has no import-time
// dependency on internal/storage's internals, only its public Store API.
func floatsToBytes(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, f := range v {
		bits := math.Float32bits(f)
		b[4*i] = byte(bits)
		b[4*i+1] = byte(bits >> 8)
		b[4*i+2] = byte(bits >> 16)
		b[4*i+3] = byte(bits >> 24)
	}
	return b
}

func bytesToFloats(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		bits := uint32(b[4*i]) | uint32(b[4*i+1])<<8 | uint32(b[4*i+2])<<16 | uint32(b[4*i+3])<<24
		v[i] = math.Float32frombits(bits)
	}
	return v
}
