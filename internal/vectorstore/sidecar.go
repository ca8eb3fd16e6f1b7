package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// Sidecar talks to an on-disk ANN service over loopback HTTP. The engine
// optionally spawns it as a child process (SidecarConfig.Command set) and
// health-checks it before marking the backend ready; once a later request
// fails to connect or gets a 5xx status, IsReady reports false so the engine can fall back to
// the embedded backend (spec §4.2's "readiness and fallback").
type Sidecar struct {
	addr    string
	client  *http.Client
	cmd     *exec.Cmd
	ready   atomic.Bool
	mu      sync.Mutex
	idAlias map[string]string // canonical hex id -> sidecar-reformatted id
}

// SidecarConfig configures an optional child process and its address.
type SidecarConfig struct {
	// Addr is host:port the sidecar listens on (loopback only).
	Addr string
	// Command, if non-empty, is exec'd to start the sidecar; the engine
	// owns its lifecycle and collects it on Close.
	Command []string
	// StartupTimeout bounds how long health checks retry before giving up.
	StartupTimeout time.Duration
}

// NewSidecar optionally starts cfg.Command, then health-checks cfg.Addr
// with exponential backoff until StartupTimeout elapses.
func NewSidecar(ctx context.Context, cfg SidecarConfig) (*Sidecar, error) {
	s := &Sidecar{
		addr:    cfg.Addr,
		client:  &http.Client{Timeout: 5 * time.Second},
		idAlias: make(map[string]string),
	}

	if len(cfg.Command) > 0 {
		cmd := exec.CommandContext(context.Background(), cfg.Command[0], cfg.Command[1:]...)
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("vectorstore: start sidecar: %w", err)
		}
		s.cmd = cmd
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = cfg.StartupTimeout
	if bo.MaxElapsedTime == 0 {
		bo.MaxElapsedTime = 10 * time.Second
	}

	err := backoff.Retry(func() error { return s.healthCheck(ctx) }, backoff.WithContext(bo, ctx))
	if err != nil {
		if s.cmd != nil {
			_ = s.cmd.Process.Kill()
		}
		return nil, fmt.Errorf("vectorstore: sidecar did not become healthy: %w", err)
	}
	s.ready.Store(true)
	return s, nil
}

func (s *Sidecar) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+s.addr+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sidecar health check: status %d", resp.StatusCode)
	}
	return nil
}

func (s *Sidecar) Backend() string { return BackendSidecar }
func (s *Sidecar) IsReady() bool   { return s.ready.Load() }

func (s *Sidecar) Close() error {
	s.ready.Store(false)
	if s.cmd != nil && s.cmd.Process != nil {
		return s.cmd.Process.Kill()
	}
	return nil
}

// sidecarID reformats a canonical 32-hex-char id into a hyphenated UUID,
// which is the identifier shape most ANN sidecars expect (spec §4.2:
// "Identifiers sent to the sidecar may be reformatted"). The mapping is
// deterministic so Search can normalize hits back without a round trip.
func sidecarID(canonical string) (string, error) {
	if len(canonical) != 32 {
		return canonical, nil
	}
	u, err := uuid.Parse(canonical)
	if err != nil {
		return "", fmt.Errorf("vectorstore: reformat id %q: %w", canonical, err)
	}
	return u.String(), nil
}

func canonicalID(sidecar string) string {
	return strings.ReplaceAll(sidecar, "-", "")
}

type sidecarUpsertReq struct {
	ID      string   `json:"id"`
	Vector  []float32 `json:"vector"`
	Project string   `json:"project_id"`
	Deleted bool     `json:"deleted"`
}

func (s *Sidecar) Upsert(ctx context.Context, id string, vector []float32, payload Payload) error {
	sid, err := sidecarID(id)
	if err != nil {
		return err
	}
	body, err := json.Marshal(sidecarUpsertReq{ID: sid, Vector: vector, Project: payload.ProjectID, Deleted: payload.Deleted})
	if err != nil {
		return fmt.Errorf("vectorstore: marshal upsert: %w", err)
	}
	return s.doJSON(ctx, http.MethodPost, "/vectors", body, nil)
}

func (s *Sidecar) Delete(ctx context.Context, id string) error {
	sid, err := sidecarID(id)
	if err != nil {
		return err
	}
	return s.doJSON(ctx, http.MethodDelete, "/vectors/"+sid, nil, nil)
}

func (s *Sidecar) Count(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := s.doJSON(ctx, http.MethodGet, "/count", nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

type sidecarSearchReq struct {
	Vector         []float32 `json:"vector"`
	K              int       `json:"k"`
	ProjectID      string    `json:"project_id,omitempty"`
	ExcludeDeleted bool      `json:"exclude_deleted,omitempty"`
	ExcludeIDs     []string  `json:"exclude_ids,omitempty"`
}

type sidecarSearchHit struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

func (s *Sidecar) Search(ctx context.Context, vector []float32, k int, filter Filter) ([]Result, error) {
	excludeIDs := make([]string, 0, len(filter.ExcludeIDs))
	for _, id := range filter.ExcludeIDs {
		sid, err := sidecarID(id)
		if err != nil {
			return nil, err
		}
		excludeIDs = append(excludeIDs, sid)
	}
	body, err := json.Marshal(sidecarSearchReq{
		Vector: vector, K: k, ProjectID: filter.ProjectID,
		ExcludeDeleted: filter.ExcludeDeleted, ExcludeIDs: excludeIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: marshal search: %w", err)
	}

	var hits []sidecarSearchHit
	if err := s.doJSON(ctx, http.MethodPost, "/search", body, &hits); err != nil {
		return nil, err
	}

	out := make([]Result, len(hits))
	for i, h := range hits {
		out[i] = Result{ID: canonicalID(h.ID), Score: h.Score}
	}
	return out, nil
}

func (s *Sidecar) doJSON(ctx context.Context, method, path string, body []byte, out any) error {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, "http://"+s.addr+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.ready.Store(false)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		s.ready.Store(false)
		return fmt.Errorf("%w: sidecar status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("vectorstore: sidecar request failed: status %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("vectorstore: decode sidecar response: %w", err)
		}
	}
	return nil
}
