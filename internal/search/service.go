package search

import "log"

// Service is the facade that tries Meilisearch first and falls back to
// ILIKE scans in Postgres.
type Service struct {
	meili *Meili
	pg    *PgSearch
}

// NewService creates a search service. meili may be nil if Meilisearch
// is not configured.
func NewService(meili *Meili, pg *PgSearch) *Service {
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
		log.Printf("search: postgres fallback error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexItem indexes a QA item, fire-and-forget.
func (s *Service) IndexItem(record ItemRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexItem(record); err != nil {
			log.Printf("search: index item %s: %v", record.ID, err)
		}
	}()
}

// IndexActivity indexes an activity entry, fire-and-forget.
func (s *Service) IndexActivity(record ActivityRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexActivity(record); err != nil {
			log.Printf("search: index activity %s: %v", record.ID, err)
		}
	}()
}

// ReindexAll pushes current rows into Meilisearch, called at startup
// when the index is reachable.
func (s *Service) ReindexAll(items []ItemRecord, activities []ActivityRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	if len(items) > 0 {
		if err := s.meili.IndexItems(items); err != nil {
			log.Printf("search: reindex items: %v", err)
		}
	}
	if len(activities) > 0 {
		if err := s.meili.IndexActivities(activities); err != nil {
			log.Printf("search: reindex activities: %v", err)
		}
	}
}

func nonNil(results []Result) []Result {
	if results == nil {
		return []Result{}
	}
	return results
}
