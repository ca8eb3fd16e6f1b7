package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mnemex/mnemex/internal/types"
)

// ExtractedFactConfidence is the by-convention confidence assigned to
// every auto-extracted memory (spec §4.11 "storeExtractedFact").
const ExtractedFactConfidence = 0.7

// AutoTag marks a memory as machine-extracted rather than user-authored.
const AutoTag = "auto"

// Candidate is a fact surfaced from an assistant message, prior to the
// quality/duplicate gate.
type Candidate struct {
	MessageID string
	Content   string
	Type      types.MemoryType
}

// ExtractFactsFromConversation runs a simple sentence-splitting extractor
// over every assistant message in messages, producing one candidate per
// declarative sentence (spec §4.11 "extractFactsFromConversation runs
// over assistant outputs").
func ExtractFactsFromConversation(messages []*types.Message) []Candidate {
	var out []Candidate
	for _, m := range messages {
		if m.Role != types.RoleAssistant {
			continue
		}
		for _, sentence := range splitSentences(m.Content) {
			s := strings.TrimSpace(sentence)
			if s == "" {
				continue
			}
			out = append(out, Candidate{MessageID: m.ID, Content: s, Type: types.TypeFact})
		}
	}
	return out
}

// splitSentences is a conservative splitter: it breaks on '.', '!', '?'
// followed by whitespace, without attempting to handle abbreviations —
// extraction quality is the classifier's job, not the splitter's.
func splitSentences(text string) []string {
	var sentences []string
	var b strings.Builder
	runes := []rune(text)
	for i, r := range runes {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' {
				sentences = append(sentences, b.String())
				b.Reset()
			}
		}
	}
	if b.Len() > 0 {
		sentences = append(sentences, b.String())
	}
	return sentences
}

// StoreExtractedFact inserts candidate as a memory if it passes the
// duplicate and quality gates, and links it back to its source message,
// following spec §4.11's three-step pipeline. Returns the inserted
// memory, or nil if the candidate was rejected.
func (s *Service) StoreExtractedFact(ctx context.Context, projectID string, cand Candidate) (*types.Memory, error) {
	existing, err := s.store.AllActiveForProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("ingest: list existing memories: %w", err)
	}
	if IsDuplicateFact(cand.Content, existing) {
		return nil, nil
	}
	if !IsQualityFact(cand.Content) {
		return nil, nil
	}

	mem := &types.Memory{
		ProjectID:  projectID,
		Content:    cand.Content,
		Type:       cand.Type,
		Tags:       []string{AutoTag},
		Importance: 0.5,
		Confidence: ExtractedFactConfidence,
		Strength:   1.0,
	}
	if err := s.store.CreateMemory(ctx, mem); err != nil {
		return nil, fmt.Errorf("ingest: create extracted memory: %w", err)
	}
	if err := s.store.LinkMemorySource(ctx, &types.MemorySource{
		MemoryID: mem.ID, MessageID: cand.MessageID, Score: ExtractedFactConfidence,
	}); err != nil {
		return nil, fmt.Errorf("ingest: link memory source: %w", err)
	}
	return mem, nil
}

// CleanupResult reports how many rows each of spec §4.11's three
// garbage-cleanup strategies deleted.
type CleanupResult struct {
	LowQualityAutoMemories int
	DefiniteGarbageManual  int
	StopwordEntities       int
}

// CleanupGarbageFacts implements spec §4.11's three deletion strategies:
// (a) auto-sourced memories failing the quality classifier, (b)
// manually-stored memories that are definite garbage by the stricter
// classifier, (c) entities whose names are bare stopwords. Memories in (a)
// and (b) are soft-deleted; entities in (c) are removed outright with
// DeleteEntity, since the entities table has no deleted_at column.
func (s *Service) CleanupGarbageFacts(ctx context.Context, projectID string) (CleanupResult, error) {
	var result CleanupResult
	now := time.Now().UTC()

	autos, err := s.store.AutoSourcedMemories(ctx, projectID)
	if err != nil {
		return result, fmt.Errorf("ingest: list auto-sourced memories: %w", err)
	}
	for _, m := range autos {
		if !IsQualityFact(m.Content) {
			if err := s.store.DeleteMemory(ctx, m.ID, now); err != nil {
				return result, fmt.Errorf("ingest: delete low-quality memory %s: %w", m.ID, err)
			}
			result.LowQualityAutoMemories++
		}
	}

	all, err := s.store.AllActiveForProject(ctx, projectID)
	if err != nil {
		return result, fmt.Errorf("ingest: list active memories: %w", err)
	}
	for _, m := range all {
		if hasTag(m.Tags, AutoTag) {
			continue
		}
		if IsDefiniteGarbage(m.Content) {
			if err := s.store.DeleteMemory(ctx, m.ID, now); err != nil {
				return result, fmt.Errorf("ingest: delete garbage memory %s: %w", m.ID, err)
			}
			result.DefiniteGarbageManual++
		}
	}

	entities, err := s.store.SearchEntities(ctx, projectID, "", "")
	if err != nil {
		return result, fmt.Errorf("ingest: list entities: %w", err)
	}
	for _, e := range entities {
		if IsStopwordName(e.Name) {
			if err := s.store.DeleteEntity(ctx, e.ID); err != nil {
				return result, fmt.Errorf("ingest: delete stopword entity %s: %w", e.ID, err)
			}
			result.StopwordEntities++
		}
	}

	return result, nil
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
