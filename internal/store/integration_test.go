package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"fieldqa/api/internal/qa"
)

// These tests need a real Postgres. They are skipped in short mode and
// when TEST_DATABASE_URL is unset.

func testStore(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := Open(ctx, databaseURL)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := ApplyMigrations(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db)
}

func seedItem(t *testing.T, s *PostgresStore) (QAItem, Profile) {
	t.Helper()
	ctx := context.Background()

	profile, err := s.CreateProfile(ctx, Profile{
		Email:        "senior-" + time.Now().Format("150405.000000000") + "@example.com",
		FullName:     "Sam Senior",
		PasswordHash: "x",
		Role:         qa.RoleSeniorEngineer,
	})
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}
	project, err := s.InsertProject(ctx, Project{Name: "Integration Project", Status: "active", CreatedBy: profile.ID})
	if err != nil {
		t.Fatalf("insert project: %v", err)
	}
	number, err := s.NextItemNumber(ctx)
	if err != nil {
		t.Fatalf("next item number: %v", err)
	}
	item, err := s.InsertItem(ctx, NewItemInput{
		ProjectID:   project.ID,
		Title:       "Leaking valve in riser",
		Description: "Observed during walkthrough",
		Discipline:  qa.DisciplinePlumbing,
		Severity:    qa.SeverityMedium,
		CreatedBy:   profile.ID,
	}, number)
	if err != nil {
		t.Fatalf("insert item: %v", err)
	}
	return item, profile
}

func TestActivityLogBlocksUpdateAndDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	item, profile := seedItem(t, s)

	updated, entry, err := s.TransitionItem(ctx, TransitionParams{
		ItemID:          item.ID,
		To:              qa.StatusOpen,
		ExpectedVersion: item.UpdatedAt,
		ActorID:         profile.ID,
		Description:     item.ItemNumber + " moved from noted to open",
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if updated.Status != qa.StatusOpen {
		t.Fatalf("expected open, got %s", updated.Status)
	}

	_, err = s.db.ExecContext(ctx, `UPDATE activity_log SET description='rewritten' WHERE id=$1`, entry.ID)
	if err == nil {
		t.Fatal("expected UPDATE on activity_log to be blocked")
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.SQLState() != "P0001" {
		t.Fatalf("expected trigger exception, got: %v", err)
	}

	_, err = s.db.ExecContext(ctx, `DELETE FROM activity_log WHERE id=$1`, entry.ID)
	if err == nil {
		t.Fatal("expected DELETE on activity_log to be blocked")
	}
}

func TestTransitionWritesStatusAndLogAtomically(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	item, profile := seedItem(t, s)

	updated, entry, err := s.TransitionItem(ctx, TransitionParams{
		ItemID:          item.ID,
		To:              qa.StatusOpen,
		ExpectedVersion: item.UpdatedAt,
		ActorID:         profile.ID,
		Description:     item.ItemNumber + " moved from noted to open",
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if updated.StartedAt == nil {
		t.Fatal("started_at must be set on first entry into open")
	}
	if entry.OldValue == nil || *entry.OldValue != "noted" || entry.NewValue == nil || *entry.NewValue != "open" {
		t.Fatalf("log entry must carry old and new status: %+v", entry)
	}
	if !entry.CreatedAt.Equal(updated.UpdatedAt) {
		t.Fatalf("entry time and version stamp must match: %v vs %v", entry.CreatedAt, updated.UpdatedAt)
	}

	events, err := s.ListItemStatusEvents(ctx, item.ID)
	if err != nil {
		t.Fatalf("list status events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 status event, got %d", len(events))
	}
}

func TestStaleVersionWritesNothing(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	item, profile := seedItem(t, s)

	stale := item.UpdatedAt.Add(-time.Second)
	_, _, err := s.TransitionItem(ctx, TransitionParams{
		ItemID:          item.ID,
		To:              qa.StatusOpen,
		ExpectedVersion: stale,
		ActorID:         profile.ID,
		Description:     "should not happen",
	})
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	current, err := s.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if current.Status != qa.StatusNoted {
		t.Fatalf("status must not change on conflict, got %s", current.Status)
	}
	events, err := s.ListItemStatusEvents(ctx, item.ID)
	if err != nil {
		t.Fatalf("list status events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("a rejected transition must log nothing, found %d events", len(events))
	}
}

func TestReopenKeepsFirstPhaseTimestamp(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	item, profile := seedItem(t, s)

	step := func(to qa.Status, version time.Time) QAItem {
		updated, _, err := s.TransitionItem(ctx, TransitionParams{
			ItemID:          item.ID,
			To:              to,
			ExpectedVersion: version,
			ActorID:         profile.ID,
			Description:     string(to),
		})
		if err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
		return updated
	}

	opened := step(qa.StatusOpen, item.UpdatedAt)
	resolved := step(qa.StatusResolved, opened.UpdatedAt)
	reopened := step(qa.StatusOpen, resolved.UpdatedAt)
	resolvedAgain := step(qa.StatusResolved, reopened.UpdatedAt)

	if !resolvedAgain.ResolvedAt.Equal(*resolved.ResolvedAt) {
		t.Fatalf("resolved_at must keep its first value across a reopen")
	}
	if !resolvedAgain.StartedAt.Equal(*opened.StartedAt) {
		t.Fatalf("started_at must keep its first value")
	}

	events, err := s.ListItemStatusEvents(ctx, item.ID)
	if err != nil {
		t.Fatalf("list status events: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 status events, got %d", len(events))
	}
}

func TestImportWritesOneEntryPerRowPlusSummary(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	_, profile := seedItem(t, s)
	project, err := s.InsertProject(ctx, Project{Name: "Import Project", Status: "active", CreatedBy: profile.ID})
	if err != nil {
		t.Fatalf("insert project: %v", err)
	}

	inputs := make([]NewItemInput, 3)
	numbers := make([]string, 3)
	for i := range inputs {
		inputs[i] = NewItemInput{
			ProjectID:  project.ID,
			Title:      "Imported finding",
			Discipline: qa.DisciplineCivil,
			Severity:   qa.SeverityLow,
			CreatedBy:  profile.ID,
		}
		numbers[i], err = s.NextItemNumber(ctx)
		if err != nil {
			t.Fatalf("next item number: %v", err)
		}
	}

	items, entries, err := s.ImportItems(ctx, inputs, numbers, profile.ID, project.ID, "imported 3 items", nil)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if len(entries) != 4 {
		t.Fatalf("expected 3 row entries plus 1 summary, got %d", len(entries))
	}
	last := entries[len(entries)-1]
	if last.ActivityType != qa.ActivityImportPerformed {
		t.Fatalf("last entry must be the import summary, got %s", last.ActivityType)
	}
	for _, entry := range entries[:3] {
		if entry.ActivityType != qa.ActivityItemEdited {
			t.Fatalf("row entries must be item_edited, got %s", entry.ActivityType)
		}
		if entry.ID >= last.ID {
			t.Fatalf("summary must order after row entries")
		}
	}
}

func TestListActivityAfterPagesInOrder(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	item, profile := seedItem(t, s)

	version := item.UpdatedAt
	for _, to := range []qa.Status{qa.StatusOpen, qa.StatusResolved, qa.StatusOpen} {
		updated, _, err := s.TransitionItem(ctx, TransitionParams{
			ItemID:          item.ID,
			To:              to,
			ExpectedVersion: version,
			ActorID:         profile.ID,
			Description:     string(to),
		})
		if err != nil {
			t.Fatalf("transition: %v", err)
		}
		version = updated.UpdatedAt
	}

	all, err := s.ListActivityFiltered(ctx, ActivityFilter{QAItemID: item.ID, Limit: 10})
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].ID > all[i-1].ID {
			t.Fatal("filtered list must be newest first")
		}
	}

	// Resume after the oldest entry and expect the remaining two.
	oldest := all[len(all)-1]
	rest, err := s.ListActivityAfter(ctx, Cursor{CreatedAt: oldest.CreatedAt, ID: oldest.ID}, 10)
	if err != nil {
		t.Fatalf("list after: %v", err)
	}
	found := 0
	for _, entry := range rest {
		if entry.QAItemID != nil && *entry.QAItemID == item.ID {
			found++
		}
	}
	if found != 2 {
		t.Fatalf("expected 2 newer entries for the item, got %d", found)
	}
}
