package ingest

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mnemex/mnemex/internal/types"
)

const (
	briefSummaryMaxRunes    = 200
	detailedSummaryMaxRunes = 1000
)

// SummarizeConversation produces and stores the detailed summary of a
// conversation's messages (spec §4.11 "summarizeConversation"); the brief
// form is derived from it by BriefSummary. Both are extractive: a
// truncated concatenation of assistant turns, since no LLM summarizer is
// wired into this package.
func (s *Service) SummarizeConversation(ctx context.Context, conv *types.Conversation) (*types.Summary, error) {
	messages, err := s.store.MessagesForConversation(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("ingest: messages for conversation: %w", err)
	}

	var assistantText strings.Builder
	var memoryIDs []string
	for _, m := range messages {
		if m.Role != types.RoleAssistant {
			continue
		}
		if assistantText.Len() > 0 {
			assistantText.WriteString(" ")
		}
		assistantText.WriteString(strings.TrimSpace(m.Content))
	}

	sum := &types.Summary{
		ProjectID:      conv.ProjectID,
		ConversationID: &conv.ID,
		Content:        truncateRunes(assistantText.String(), detailedSummaryMaxRunes),
		MemoryIDs:      memoryIDs,
	}
	if err := s.store.CreateSummary(ctx, sum); err != nil {
		return nil, fmt.Errorf("ingest: create summary: %w", err)
	}
	return sum, nil
}

// SummarizeBatch summarizes every conversation in convs, continuing past
// individual failures so one bad conversation doesn't abort the batch;
// failures are returned alongside the summaries that did succeed.
func (s *Service) SummarizeBatch(ctx context.Context, convs []*types.Conversation) ([]*types.Summary, []error) {
	var summaries []*types.Summary
	var errs []error
	for _, conv := range convs {
		sum, err := s.SummarizeConversation(ctx, conv)
		if err != nil {
			errs = append(errs, fmt.Errorf("conversation %s: %w", conv.ID, err))
			continue
		}
		summaries = append(summaries, sum)
	}
	return summaries, errs
}

// BriefSummary truncates a conversation summary's content to a short
// preview, for listings that don't want the full detailed summary.
func BriefSummary(sum *types.Summary) string {
	return truncateRunes(sum.Content, briefSummaryMaxRunes)
}

// TermCount is one entry of ExtractConversationTopics' output.
type TermCount struct {
	Term  string
	Count int
}

// ExtractConversationTopics emits the topN most frequent non-stopword
// terms across messages (spec §4.11 "extractConversationTopics emits
// top-N term frequencies with a stopword filter").
func ExtractConversationTopics(messages []*types.Message, topN int) []TermCount {
	counts := make(map[string]int)
	for _, m := range messages {
		for _, w := range strings.Fields(m.Content) {
			term := strings.ToLower(strings.Trim(w, ".,!?;:\"'()"))
			if term == "" || stopwords[term] || len(term) < 3 {
				continue
			}
			counts[term]++
		}
	}

	out := make([]TermCount, 0, len(counts))
	for term, n := range counts {
		out = append(out, TermCount{Term: term, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Term < out[j].Term
	})
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}

// SearchConversationSummaries performs a case-insensitive substring
// search across a project's summaries (spec §4.11
// "searchConversationSummaries supports text search across summaries").
func (s *Service) SearchConversationSummaries(ctx context.Context, projectID, q string) ([]*types.Summary, error) {
	// The summaries table has no FTS index of its own (it's a small,
	// infrequently-queried rollup, unlike memories); a linear scan over a
	// project's summaries is adequate.
	all, err := s.store.ListSummaries(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if q == "" {
		return all, nil
	}
	lq := strings.ToLower(q)
	var out []*types.Summary
	for _, sum := range all {
		if strings.Contains(strings.ToLower(sum.Content), lq) {
			out = append(out, sum)
		}
	}
	return out, nil
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
