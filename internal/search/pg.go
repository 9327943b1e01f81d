package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Pg implements Searcher with plain ILIKE matching as the fallback when
// Meilisearch is unavailable. Resolution texts are short, one team is a few
// hundred rows at most, so this stays cheap.
type Pg struct {
	db *sql.DB
}

// NewPg creates the PostgreSQL fallback searcher.
func NewPg(db *sql.DB) *Pg {
	return &Pg{db: db}
}

// Healthy always returns true; when Postgres is down the whole app is down.
func (p *Pg) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across cells and provided resolutions,
// scoped to one team.
func (p *Pg) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || q.TeamID == "" {
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

	pattern := "%" + escapeLike(q.Text) + "%"
	args := []any{q.TeamID, pattern}

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultCell {
		subQueries = append(subQueries, `
			SELECT 'cell'::text AS type, ce.id, ce.resolved_text AS text,
				ca.team_id, ca.member_id, u.username, ce.source_type AS source
			FROM cells ce
			JOIN cards ca ON ca.id = ce.card_id
			JOIN users u ON u.id = ca.member_id
			WHERE ca.team_id = $1 AND ce.source_type <> 'empty' AND ce.resolved_text ILIKE $2`)
	}

	if q.FilterType == "" || q.FilterType == ResultResolution {
		subQueries = append(subQueries, `
			SELECT 'resolution'::text AS type, pr.id, pr.body AS text,
				pr.team_id, pr.for_user_id AS member_id, u.username, 'provided'::text AS source
			FROM provided_resolutions pr
			JOIN users u ON u.id = pr.for_user_id
			WHERE pr.team_id = $1 AND pr.body ILIKE $2`)
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, text, team_id, member_id, username, source
		FROM (%s) sub
		ORDER BY type ASC, text ASC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("search count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Text, &r.TeamID, &r.MemberID, &r.Username, &r.Source); err != nil {
			return nil, 0, fmt.Errorf("search scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// escapeLike neutralizes LIKE wildcards in user input.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *Pg) LoadAllRecords(ctx context.Context) ([]CellRecord, []ResolutionRecord, error) {
	cellRows, err := p.db.QueryContext(ctx, `
		SELECT ce.id, ca.team_id, ca.member_id, u.username, ce.resolved_text, ce.source_type
		FROM cells ce
		JOIN cards ca ON ca.id = ce.card_id
		JOIN users u ON u.id = ca.member_id
		WHERE ce.source_type <> 'empty'
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load cells: %w", err)
	}
	defer cellRows.Close()

	cells := make([]CellRecord, 0)
	for cellRows.Next() {
		var c CellRecord
		if err := cellRows.Scan(&c.ID, &c.TeamID, &c.MemberID, &c.Username, &c.Text, &c.Source); err != nil {
			return nil, nil, fmt.Errorf("scan cell: %w", err)
		}
		cells = append(cells, c)
	}
	if err := cellRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate cells: %w", err)
	}

	resolutionRows, err := p.db.QueryContext(ctx, `
		SELECT pr.id, pr.team_id, pr.for_user_id, u.username, pr.body
		FROM provided_resolutions pr
		JOIN users u ON u.id = pr.for_user_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load resolutions: %w", err)
	}
	defer resolutionRows.Close()

	resolutions := make([]ResolutionRecord, 0)
	for resolutionRows.Next() {
		var r ResolutionRecord
		if err := resolutionRows.Scan(&r.ID, &r.TeamID, &r.MemberID, &r.Username, &r.Body); err != nil {
			return nil, nil, fmt.Errorf("scan resolution: %w", err)
		}
		resolutions = append(resolutions, r)
	}
	if err := resolutionRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate resolutions: %w", err)
	}

	return cells, resolutions, nil
}
