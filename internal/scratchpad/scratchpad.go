// Package scratchpad is the thin, user-facing wrapper around the
// project-scoped TTL'd key/value store of spec §3 ("Scratchpad"). The
// storage layer already implements the row CRUD and TTL expiry; this
// package only translates the tool-facing TTL-duration API into the
// absolute expires_at the storage layer persists, and keeps internal
// (__-prefixed) keys out of reach of the public surface.
package scratchpad

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mnemex/mnemex/internal/apperr"
	"github.com/mnemex/mnemex/internal/storage"
	"github.com/mnemex/mnemex/internal/types"
)

// Service implements the scratchpad get/set/delete/list/clear operations.
type Service struct {
	store *storage.Store
}

// New constructs a Service.
func New(store *storage.Store) *Service {
	return &Service{store: store}
}

// Set upserts key to value, expiring after ttl from now if ttl > 0.
// ttl <= 0 means no expiry.
func (s *Service) Set(ctx context.Context, projectID, key, value string, ttl time.Duration) error {
	if err := validateKey(key); err != nil {
		return err
	}
	item := &types.ScratchpadItem{ProjectID: projectID, Key: key, Value: value}
	if ttl > 0 {
		expires := time.Now().UTC().Add(ttl)
		item.ExpiresAt = &expires
	}
	if err := s.store.SetScratchpad(ctx, item); err != nil {
		return fmt.Errorf("scratchpad: set: %w", err)
	}
	return nil
}

// Get fetches key's value, returning storage.ErrNotFound if absent or
// expired.
func (s *Service) Get(ctx context.Context, projectID, key string) (*types.ScratchpadItem, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	return s.store.GetScratchpad(ctx, projectID, key)
}

// Delete removes key.
func (s *Service) Delete(ctx context.Context, projectID, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return s.store.DeleteScratchpad(ctx, projectID, key)
}

// List returns every non-expired, non-internal key for a project.
func (s *Service) List(ctx context.Context, projectID string) ([]*types.ScratchpadItem, error) {
	return s.store.ListScratchpad(ctx, projectID)
}

// Clear deletes every non-internal key for a project, returning the
// count removed.
func (s *Service) Clear(ctx context.Context, projectID string) (int64, error) {
	return s.store.ClearScratchpad(ctx, projectID)
}

// validateKey rejects the public API writing to or reading the
// internal __-prefixed advisory-lock/session keys directly (spec §4.7,
// §4.8 reserve that namespace for the consolidation and session
// subsystems).
func validateKey(key string) error {
	if strings.HasPrefix(key, "__") {
		return apperr.Invalid("scratchpad", "key", "keys starting with \"__\" are reserved")
	}
	if key == "" {
		return apperr.Invalid("scratchpad", "key", "key must not be empty")
	}
	return nil
}
