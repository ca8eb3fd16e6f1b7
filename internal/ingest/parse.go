// Package ingest implements spec §4.11's chat-archive ingestion: parsing
// a line-delimited JSON conversation log into conversations/messages/
// tool-uses, deduping on (source, session id), extracting candidate
// facts through a quality classifier, and summarizing conversations.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/mnemex/mnemex/internal/storage"
	"github.com/mnemex/mnemex/internal/types"
)

// archiveRecord is one line of an ingested archive: a single conversation
// turn, optionally carrying the tool calls the assistant made during it.
type archiveRecord struct {
	SourceSessionID string           `json:"source_session_id"`
	Role            string           `json:"role"`
	Content         string           `json:"content"`
	Timestamp       time.Time        `json:"timestamp"`
	ToolUses        []archiveToolUse `json:"tool_uses,omitempty"`
}

type archiveToolUse struct {
	ToolName string `json:"tool_name"`
	Input    string `json:"input"`
	Output   string `json:"output,omitempty"`
}

// Service ingests chat archives and extracts memories from them.
type Service struct {
	store *storage.Store
}

// New constructs a Service.
func New(store *storage.Store) *Service {
	return &Service{store: store}
}

// ParseResult summarizes one archive ingestion.
type ParseResult struct {
	Conversation *types.Conversation
	Messages     []*types.Message
	Skipped      bool // true when this archive's content hash was already ingested
}

// ParseArchive reads a line-delimited JSON conversation archive from r,
// computes a content hash of the whole archive, and skips re-ingesting
// it if that hash was already seen for this (source, session) pair (spec
// §4.11 "dedup by (source, source_session_id)").
func (s *Service) ParseArchive(ctx context.Context, projectID, source string, r io.Reader) (*ParseResult, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("ingest: read archive: %w", err)
	}
	hash := contentHash(raw)

	var records []archiveRecord
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(bytesTrimSpace(line)) == 0 {
			continue
		}
		var rec archiveRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("ingest: parse archive line %d: %w", lineNo, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ingest: scan archive: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("ingest: empty archive")
	}

	sessionID := records[0].SourceSessionID
	if existing, err := s.store.ConversationByHash(ctx, projectID, hash); err == nil {
		return &ParseResult{Conversation: existing, Skipped: true}, nil
	} else if err != storage.ErrNotFound {
		return nil, fmt.Errorf("ingest: check existing conversation: %w", err)
	}

	conv := &types.Conversation{
		ProjectID:   projectID,
		Source:      source,
		ContentHash: hash,
		StartedAt:   records[0].Timestamp,
		EndedAt:     records[len(records)-1].Timestamp,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("ingest: create conversation %s/%s: %w", source, sessionID, err)
	}

	messages := make([]*types.Message, 0, len(records))
	for i, rec := range records {
		msg := &types.Message{
			ConversationID: conv.ID,
			Role:           types.MessageRole(rec.Role),
			Content:        rec.Content,
			Seq:            i,
			CreatedAt:      rec.Timestamp,
		}
		if err := s.store.CreateMessage(ctx, msg); err != nil {
			return nil, fmt.Errorf("ingest: create message: %w", err)
		}
		for _, tu := range rec.ToolUses {
			if err := s.store.CreateToolUse(ctx, &types.ToolUse{
				MessageID: msg.ID, ToolName: tu.ToolName, Input: tu.Input, Output: tu.Output,
			}); err != nil {
				return nil, fmt.Errorf("ingest: create tool use: %w", err)
			}
		}
		messages = append(messages, msg)
	}

	return &ParseResult{Conversation: conv, Messages: messages}, nil
}

func contentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func bytesTrimSpace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && isSpaceByte(b[start]) {
		start++
	}
	for end > start && isSpaceByte(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpaceByte(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
