// Package enrich projects raw activity log entries into display form,
// resolving user, project, and item references in batch. References
// that no longer resolve are rendered with an explicit unknown marker
// rather than dropped: the log outlives the rows it points at.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fieldqa/api/internal/qa"
	"fieldqa/api/internal/store"
)

// UnknownMarker stands in for any reference that failed to resolve.
const UnknownMarker = "unknown"

type Store interface {
	GetProfilesByIDs(ctx context.Context, ids []string) (map[string]store.Profile, error)
	GetProjectNamesByIDs(ctx context.Context, ids []string) (map[string]string, error)
	GetItemRefsByIDs(ctx context.Context, ids []string) (map[string]store.ItemRef, error)
}

// DisplayEntry is one resolved activity entry ready for clients.
type DisplayEntry struct {
	ID           int64           `json:"id"`
	ActivityType qa.ActivityType `json:"activity_type"`
	Description  string          `json:"description"`
	OldValue     *string         `json:"old_value,omitempty"`
	NewValue     *string         `json:"new_value,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	ProjectID    *string         `json:"project_id,omitempty"`
	ProjectName  string          `json:"project_name,omitempty"`
	QAItemID     *string         `json:"qa_item_id,omitempty"`
	ItemNumber   string          `json:"item_number,omitempty"`
	ItemTitle    string          `json:"item_title,omitempty"`
	UserID       *string         `json:"user_id,omitempty"`
	UserName     string          `json:"user_name,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type Resolver struct {
	store Store
}

func NewResolver(s Store) *Resolver {
	return &Resolver{store: s}
}

// Resolve enriches a page of entries with one batched lookup per
// referenced entity kind, regardless of page size.
func (r *Resolver) Resolve(ctx context.Context, entries []store.ActivityLogEntry) ([]DisplayEntry, error) {
	userIDs := collectIDs(entries, func(e store.ActivityLogEntry) *string { return e.UserID })
	projectIDs := collectIDs(entries, func(e store.ActivityLogEntry) *string { return e.ProjectID })
	itemIDs := collectIDs(entries, func(e store.ActivityLogEntry) *string { return e.QAItemID })

	profiles, err := r.store.GetProfilesByIDs(ctx, userIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve users: %w", err)
	}
	projects, err := r.store.GetProjectNamesByIDs(ctx, projectIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve projects: %w", err)
	}
	items, err := r.store.GetItemRefsByIDs(ctx, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve items: %w", err)
	}

	out := make([]DisplayEntry, 0, len(entries))
	for _, e := range entries {
		display := DisplayEntry{
			ID:           e.ID,
			ActivityType: e.ActivityType,
			Description:  e.Description,
			OldValue:     e.OldValue,
			NewValue:     e.NewValue,
			Metadata:     e.Metadata,
			ProjectID:    e.ProjectID,
			QAItemID:     e.QAItemID,
			UserID:       e.UserID,
			CreatedAt:    e.CreatedAt,
		}
		if e.UserID != nil {
			if profile, ok := profiles[*e.UserID]; ok {
				display.UserName = profile.FullName
			} else {
				display.UserName = UnknownMarker
			}
		}
		if e.ProjectID != nil {
			if name, ok := projects[*e.ProjectID]; ok {
				display.ProjectName = name
			} else {
				display.ProjectName = UnknownMarker
			}
		}
		if e.QAItemID != nil {
			if ref, ok := items[*e.QAItemID]; ok {
				display.ItemNumber = ref.ItemNumber
				display.ItemTitle = ref.Title
			} else {
				display.ItemNumber = UnknownMarker
				display.ItemTitle = UnknownMarker
			}
		}
		out = append(out, display)
	}
	return out, nil
}

func collectIDs(entries []store.ActivityLogEntry, pick func(store.ActivityLogEntry) *string) []string {
	seen := make(map[string]bool)
	ids := make([]string, 0)
	for _, e := range entries {
		if id := pick(e); id != nil && !seen[*id] {
			seen[*id] = true
			ids = append(ids, *id)
		}
	}
	return ids
}
