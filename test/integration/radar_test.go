package integration

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/trialsense/trialsense/internal/domain/radar"
)

func TestAlertInsertDedup(t *testing.T) {
	ctx := context.Background()
	resetDB(t, ctx)
	repo := radar.NewRepo(globalDB.Pool)

	a := &radar.Alert{
		Drug:        "Pembrolizumab",
		Category:    radar.CategoryRegulatory,
		Severity:    "medium",
		Title:       "Label updated with new immune-mediated reaction warnings",
		Description: "US prescribing information now lists additional immune-mediated reactions.",
		Source:      "FDA",
		SourceURL:   ptrStr("https://www.fda.gov/safety/example"),
		EventDate:   "2026-08-20",
		IsNew:       true,
	}
	inserted, err := repo.Insert(ctx, a)
	if err != nil {
		t.Fatalf("insert alert: %v", err)
	}
	if !inserted {
		t.Fatal("expected first insert to store a row")
	}

	// Same drug+title modulo case and whitespace hits the dedup index.
	dup := &radar.Alert{
		Drug:     "  pembrolizumab ",
		Category: radar.CategoryRegulatory,
		Severity: "medium",
		Title:    " LABEL UPDATED WITH NEW IMMUNE-MEDIATED REACTION WARNINGS ",
		IsNew:    true,
	}
	inserted, err = repo.Insert(ctx, dup)
	if err != nil {
		t.Fatalf("insert duplicate: %v", err)
	}
	if inserted {
		t.Error("expected duplicate drug+title to be dropped")
	}

	other := &radar.Alert{
		Drug:     "Pembrolizumab",
		Category: radar.CategoryAdverseEvent,
		Severity: "high",
		Title:    "Case series of severe myocarditis reported",
		IsNew:    true,
	}
	inserted, err = repo.Insert(ctx, other)
	if err != nil {
		t.Fatalf("insert second alert: %v", err)
	}
	if !inserted {
		t.Error("expected a different title to insert")
	}

	n, err := repo.CountUnread(ctx)
	if err != nil {
		t.Fatalf("count unread: %v", err)
	}
	if n != 2 {
		t.Errorf("unread count = %d, want 2", n)
	}
}

func TestAlertInsertConcurrentDedup(t *testing.T) {
	ctx := context.Background()
	resetDB(t, ctx)
	repo := radar.NewRepo(globalDB.Pool)

	// Several scans land the same finding at once; the unique index must
	// let exactly one row through.
	const writers = 8
	results := make([]bool, writers)
	errs := make([]error, writers)

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = repo.Insert(ctx, &radar.Alert{
				Drug:     "Pembrolizumab",
				Category: radar.CategoryRegulatory,
				Severity: "high",
				Title:    "FDA Black Box Warning",
				IsNew:    true,
			})
		}(i)
	}
	wg.Wait()

	stored := 0
	for i := 0; i < writers; i++ {
		if errs[i] != nil {
			t.Fatalf("insert %d: %v", i, errs[i])
		}
		if results[i] {
			stored++
		}
	}
	if stored != 1 {
		t.Errorf("%d inserts claimed the row, want exactly 1", stored)
	}

	n, err := repo.CountUnread(ctx)
	if err != nil {
		t.Fatalf("count unread: %v", err)
	}
	if n != 1 {
		t.Errorf("unread count = %d, want 1", n)
	}
}

func TestAlertReadLifecycle(t *testing.T) {
	ctx := context.Background()
	resetDB(t, ctx)
	repo := radar.NewRepo(globalDB.Pool)

	alerts := []*radar.Alert{
		{Drug: "Osimertinib", Category: radar.CategoryRegulatory, Severity: "low", Title: "EMA assessment report published", EventDate: "2026-08-10", IsNew: true},
		{Drug: "Osimertinib", Category: radar.CategoryCompetitor, Severity: "medium", Title: "Rival fourth-generation EGFR inhibitor enters phase 2", EventDate: "2026-08-15", IsNew: true},
		{Drug: "Trastuzumab", Category: radar.CategoryAdverseEvent, Severity: "high", Title: "Updated cardiac monitoring guidance", EventDate: "2026-08-18", IsNew: true},
	}
	for _, a := range alerts {
		inserted, err := repo.Insert(ctx, a)
		if err != nil {
			t.Fatalf("insert %s: %v", a.Title, err)
		}
		if !inserted {
			t.Fatalf("expected %s to insert", a.Title)
		}
	}

	unread, err := repo.ListNew(ctx)
	if err != nil {
		t.Fatalf("list new: %v", err)
	}
	if len(unread) != 3 {
		t.Fatalf("got %d unread alerts, want 3", len(unread))
	}

	updated, err := repo.MarkRead(ctx, []uuid.UUID{alerts[0].ID, alerts[1].ID})
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if updated != 2 {
		t.Errorf("marked %d alerts, want 2", updated)
	}

	// Re-marking the same ids is a no-op.
	updated, err = repo.MarkRead(ctx, []uuid.UUID{alerts[0].ID, alerts[1].ID})
	if err != nil {
		t.Fatalf("mark read again: %v", err)
	}
	if updated != 0 {
		t.Errorf("re-mark updated %d alerts, want 0", updated)
	}

	n, err := repo.CountUnread(ctx)
	if err != nil {
		t.Fatalf("count unread: %v", err)
	}
	if n != 1 {
		t.Errorf("unread count = %d, want 1", n)
	}

	// Unread rows sort ahead of read ones regardless of event date.
	all, total, err := repo.List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(all) != 3 {
		t.Fatalf("got %d alerts, want 3", len(all))
	}
	if !all[0].IsNew || all[0].ID != alerts[2].ID {
		t.Errorf("first listed alert = %s (is_new=%v), want the unread one", all[0].Title, all[0].IsNew)
	}
	// Within the read group, newer event dates come first.
	if all[1].ID != alerts[1].ID || all[2].ID != alerts[0].ID {
		t.Errorf("read alerts out of date order: %s then %s", all[1].EventDate, all[2].EventDate)
	}
}
