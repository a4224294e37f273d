package storage

import "strings"

// escapeFTS5Query turns a user-supplied search string into a query FTS5
// will never reject as a syntax error. Every whitespace-separated term is
// individually quoted (embedded quotes doubled) and the terms are joined
// with OR, so punctuation and FTS operator characters (- . * " ( ) ^ + :)
// inside a term are simply part of a quoted string rather than operators.
func escapeFTS5Query(query string) string {
	words := strings.Fields(query)
	if len(words) == 0 {
		return ""
	}

	terms := make([]string, 0, len(words))
	for _, word := range words {
		escaped := strings.ReplaceAll(word, `"`, `""`)
		terms = append(terms, `"`+escaped+`"`)
	}
	if len(terms) == 1 {
		return terms[0]
	}
	return strings.Join(terms, " OR ")
}

const querySearchFTSBase = `SELECT
	m.id, m.session_id, s.project_id, p.path AS project_path, m.role,
	m.content_full,
	snippet(messages_fts, 0, '<mark>', '</mark>', '...', 64) AS snippet,
	bm25(messages_fts) AS score,
	m.timestamp
FROM messages_fts
JOIN messages m ON messages_fts.rowid = m.id
JOIN sessions s ON m.session_id = s.session_id
JOIN projects p ON s.project_id = p.id
WHERE messages_fts MATCH ?`

var searchOrderClauses = map[int]string{
	0: " ORDER BY score ASC",      // OrderScore: bm25, smaller is better
	1: " ORDER BY m.timestamp DESC",
	2: " ORDER BY m.timestamp ASC",
}
