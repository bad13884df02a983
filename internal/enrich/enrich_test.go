package enrich

import (
	"context"
	"testing"
	"time"

	"fieldqa/api/internal/qa"
	"fieldqa/api/internal/store"
)

type fakeStore struct {
	profiles map[string]store.Profile
	projects map[string]string
	items    map[string]store.ItemRef

	profileCalls int
	projectCalls int
	itemCalls    int
}

func (f *fakeStore) GetProfilesByIDs(_ context.Context, ids []string) (map[string]store.Profile, error) {
	f.profileCalls++
	out := map[string]store.Profile{}
	for _, id := range ids {
		if p, ok := f.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (f *fakeStore) GetProjectNamesByIDs(_ context.Context, ids []string) (map[string]string, error) {
	f.projectCalls++
	out := map[string]string{}
	for _, id := range ids {
		if name, ok := f.projects[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}

func (f *fakeStore) GetItemRefsByIDs(_ context.Context, ids []string) (map[string]store.ItemRef, error) {
	f.itemCalls++
	out := map[string]store.ItemRef{}
	for _, id := range ids {
		if ref, ok := f.items[id]; ok {
			out[id] = ref
		}
	}
	return out, nil
}

func strPtr(s string) *string { return &s }

func entry(id int64, userID, projectID, itemID *string) store.ActivityLogEntry {
	return store.ActivityLogEntry{
		ID:           id,
		ActivityType: qa.ActivityStatusChange,
		Description:  "moved",
		UserID:       userID,
		ProjectID:    projectID,
		QAItemID:     itemID,
		CreatedAt:    time.Now().UTC(),
	}
}

func TestResolveBatchesLookups(t *testing.T) {
	fake := &fakeStore{
		profiles: map[string]store.Profile{"u1": {ID: "u1", FullName: "Dana"}},
		projects: map[string]string{"p1": "Harbor Tower"},
		items:    map[string]store.ItemRef{"i1": {ID: "i1", ItemNumber: "QA-2026-0001", Title: "Wiring"}},
	}
	resolver := NewResolver(fake)

	entries := []store.ActivityLogEntry{
		entry(1, strPtr("u1"), strPtr("p1"), strPtr("i1")),
		entry(2, strPtr("u1"), strPtr("p1"), strPtr("i1")),
		entry(3, strPtr("u1"), strPtr("p1"), nil),
	}
	display, err := resolver.Resolve(context.Background(), entries)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(display) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(display))
	}
	if fake.profileCalls != 1 || fake.projectCalls != 1 || fake.itemCalls != 1 {
		t.Fatalf("expected one batched lookup per kind, got %d/%d/%d",
			fake.profileCalls, fake.projectCalls, fake.itemCalls)
	}
	if display[0].UserName != "Dana" || display[0].ProjectName != "Harbor Tower" || display[0].ItemNumber != "QA-2026-0001" {
		t.Fatalf("references not resolved: %+v", display[0])
	}
	if display[2].ItemNumber != "" {
		t.Fatalf("entries without an item reference stay blank, got %q", display[2].ItemNumber)
	}
}

func TestResolveMarksDanglingReferences(t *testing.T) {
	resolver := NewResolver(&fakeStore{})
	display, err := resolver.Resolve(context.Background(), []store.ActivityLogEntry{
		entry(1, strPtr("ghost-user"), strPtr("ghost-project"), strPtr("ghost-item")),
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	got := display[0]
	if got.UserName != UnknownMarker || got.ProjectName != UnknownMarker ||
		got.ItemNumber != UnknownMarker || got.ItemTitle != UnknownMarker {
		t.Fatalf("dangling references must carry the unknown marker: %+v", got)
	}
}

func TestResolveEmptyPage(t *testing.T) {
	fake := &fakeStore{}
	resolver := NewResolver(fake)
	display, err := resolver.Resolve(context.Background(), nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(display) != 0 {
		t.Fatalf("expected empty result, got %d", len(display))
	}
}
