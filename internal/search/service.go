package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to
// Postgres ILIKE.
type Service struct {
	meili *Meili
	pg    *Pg
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pg *Pg) *Service {
	return &Service{meili: meili, pg: pg}
}

// Search tries Meilisearch if healthy, otherwise falls back to Postgres.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to postgres: %v", err)
	}

	results, total, err := s.pg.Search(q)
	if err != nil {
		log.Printf("search: postgres error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexCells indexes a batch of cells (fire-and-forget to Meilisearch).
func (s *Service) IndexCells(cells []CellRecord) {
	if s.meili == nil || !s.meili.Healthy() || len(cells) == 0 {
		return
	}
	go func() {
		if err := s.meili.IndexCells(cells); err != nil {
			log.Printf("search: index %d cells: %v", len(cells), err)
		}
	}()
}

// IndexResolutions indexes provided resolutions (fire-and-forget to Meilisearch).
func (s *Service) IndexResolutions(resolutions []ResolutionRecord) {
	if s.meili == nil || !s.meili.Healthy() || len(resolutions) == 0 {
		return
	}
	go func() {
		if err := s.meili.IndexResolutions(resolutions); err != nil {
			log.Printf("search: index %d resolutions: %v", len(resolutions), err)
		}
	}()
}

// ReindexAllFromPG reindexes all searchable records from PostgreSQL into
// Meilisearch. Called during startup if Meilisearch is healthy.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pg == nil {
		return
	}
	cells, resolutions, err := s.pg.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if len(cells) > 0 {
		if err := s.meili.IndexCells(cells); err != nil {
			log.Printf("search: reindex cells: %v", err)
		}
	}
	if len(resolutions) > 0 {
		if err := s.meili.IndexResolutions(resolutions); err != nil {
			log.Printf("search: reindex resolutions: %v", err)
		}
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
