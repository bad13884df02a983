package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgSearch implements Searcher with ILIKE scans as a fallback. Slow on
// large tables but always available.
type PgSearch struct {
	db *sql.DB
}

func NewPgSearch(db *sql.DB) *PgSearch {
	return &PgSearch{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgSearch) Healthy() bool {
	return true
}

// Search runs a UNION ALL over qa_items and activity_log, matching the
// query text against numbers, titles, and descriptions.
func (p *PgSearch) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultItem {
		subQueries = append(subQueries, `
			SELECT 'item'::text AS type, i.id::text, i.title,
				LEFT(i.description, 160) AS snippet,
				i.project_id::text, i.id::text AS qa_item_id,
				i.item_number, i.status::text
			FROM qa_items i
			WHERE ($2='' OR i.project_id = $2::uuid)
			  AND (i.item_number ILIKE '%' || $1 || '%'
				OR i.title ILIKE '%' || $1 || '%'
				OR i.description ILIKE '%' || $1 || '%')`)
	}

	if q.FilterType == "" || q.FilterType == ResultActivity {
		subQueries = append(subQueries, `
			SELECT 'activity'::text AS type, a.id::text, a.activity_type::text AS title,
				LEFT(a.description, 160) AS snippet,
				COALESCE(a.project_id::text, ''), COALESCE(a.qa_item_id::text, ''),
				COALESCE(i.item_number, ''), ''::text AS status
			FROM activity_log a
			LEFT JOIN qa_items i ON i.id = a.qa_item_id
			WHERE ($2='' OR a.project_id = $2::uuid)
			  AND (a.description ILIKE '%' || $1 || '%'
				OR i.item_number ILIKE '%' || $1 || '%')`)
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	args := []any{q.Text, q.FilterProjectID}

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM (%s) sub", union), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgsearch count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT type, id, title, snippet, project_id, qa_item_id, item_number, status
		FROM (%s) sub
		ORDER BY type ASC, id DESC
		LIMIT %d OFFSET %d`, union, limit, offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgsearch query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ProjectID, &r.QAItemID, &r.ItemNumber, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgsearch scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("pgsearch rows: %w", err)
	}

	return results, total, nil
}
