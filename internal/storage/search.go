package storage

import (
	"context"
	"fmt"
	"strings"
)

// KeywordHit is one candidate row surfaced by a keyword search, before the
// caller scores it by matched-term fraction (spec §4.4 step 2).
type KeywordHit struct {
	ID      string
	Content string
}

// SearchKeywordFTS runs a BM25-ranked FTS5 MATCH query against
// memories_fts, scoped to projectID plus the global project. ftsQuery is a
// pre-built FTS5 MATCH expression (see search package's buildFTSQuery).
func (s *Store) SearchKeywordFTS(ctx context.Context, projectID, ftsQuery string, limit int) ([]KeywordHit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.content
		FROM memories_fts f
		JOIN memories m ON m.rowid = f.rowid
		WHERE memories_fts MATCH ?
		  AND (m.project_id = ? OR m.project_id = 'global')
		  AND m.deleted_at IS NULL
		ORDER BY bm25(f)
		LIMIT ?`, ftsQuery, projectID, limit)
	if err != nil {
		return nil, wrapDBError("search keyword fts", err)
	}
	defer rows.Close()

	var out []KeywordHit
	for rows.Next() {
		var h KeywordHit
		if err := rows.Scan(&h.ID, &h.Content); err != nil {
			return nil, wrapDBError("scan keyword fts hit", err)
		}
		out = append(out, h)
	}
	return out, wrapDBError("iterate keyword fts hits", rows.Err())
}

// SearchKeywordLike is the fallback keyword search used when the FTS5
// index is unavailable: an escaped LIKE over content, one clause per term
// joined by OR (spec §4.4 step 2, "otherwise an escaped LIKE over
// content").
func (s *Store) SearchKeywordLike(ctx context.Context, projectID string, terms []string, limit int) ([]KeywordHit, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	clauses := make([]string, len(terms))
	args := make([]any, 0, len(terms)+2)
	for i, t := range terms {
		clauses[i] = "m.content LIKE ? ESCAPE '\\'"
		args = append(args, "%"+escapeLike(t)+"%")
	}
	query := fmt.Sprintf(`
		SELECT m.id, m.content FROM memories m
		WHERE (%s)
		  AND (m.project_id = ? OR m.project_id = 'global')
		  AND m.deleted_at IS NULL
		LIMIT ?`, strings.Join(clauses, " OR "))
	args = append(args, projectID, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("search keyword like", err)
	}
	defer rows.Close()

	var out []KeywordHit
	for rows.Next() {
		var h KeywordHit
		if err := rows.Scan(&h.ID, &h.Content); err != nil {
			return nil, wrapDBError("scan keyword like hit", err)
		}
		out = append(out, h)
	}
	return out, wrapDBError("iterate keyword like hits", rows.Err())
}

// escapeLike escapes a LIKE pattern's special characters so a literal
// search term never gets interpreted as a wildcard.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "_", "\\_")
	return s
}
