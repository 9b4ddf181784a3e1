package session

import (
	"context"
	"testing"
	"time"

	"github.com/0x6d61/xssprobe/internal/engine"
)

func newStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore(:memory:) returned error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleResult() *engine.ScanResult {
	start := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	return &engine.ScanResult{
		Target: engine.ScanTarget{URL: "http://shop.test/search?q=a"},
		Environment: engine.Environment{
			Server: "nginx",
			WAF:    &engine.WAF{Name: "cloudflare"},
		},
		Verdicts: []engine.Verdict{
			{
				Point:        engine.InjectionPoint{Name: "q", Kind: engine.KindURLParam, Target: engine.ScanTarget{URL: "http://shop.test/search?q=a"}},
				IsVulnerable: true,
				Confidence:   0.8,
				VulnClass:    "reflected",
			},
			{
				Point: engine.InjectionPoint{Name: "page", Kind: engine.KindURLParam},
				Error: "boom",
			},
		},
		StartTime:    start,
		EndTime:      start.Add(3 * time.Second),
		RequestCount: 42,
	}
}

func TestRecordFrom(t *testing.T) {
	rec := RecordFrom("scan-1", sampleResult())

	if rec.Points != 2 || rec.Vulnerable != 1 {
		t.Errorf("Points/Vulnerable = %d/%d, want 2/1", rec.Points, rec.Vulnerable)
	}
	if rec.Server != "nginx" || rec.WAF != "cloudflare" {
		t.Errorf("Server/WAF = %q/%q", rec.Server, rec.WAF)
	}
	if rec.RequestCount != 42 {
		t.Errorf("RequestCount = %d, want 42", rec.RequestCount)
	}
	if len(rec.Verdicts) != 2 || rec.Verdicts[0].Kind != "urlParam" || rec.Verdicts[1].Error != "boom" {
		t.Errorf("Verdicts = %+v", rec.Verdicts)
	}
}

func TestSQLiteStore_SaveAndLoad(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	rec := RecordFrom("", sampleResult())
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("Save did not assign an ID")
	}

	loaded, err := store.Load(ctx, "http://shop.test/search?q=a")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if loaded == nil {
		t.Fatal("Load returned nil record")
	}
	if loaded.ID != rec.ID {
		t.Errorf("ID = %q, want %q", loaded.ID, rec.ID)
	}
	if loaded.Vulnerable != 1 || len(loaded.Verdicts) != 2 {
		t.Errorf("loaded = %+v", loaded)
	}
	if !loaded.StartedAt.Equal(rec.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", loaded.StartedAt, rec.StartedAt)
	}

	byID, err := store.LoadByID(ctx, rec.ID)
	if err != nil || byID == nil {
		t.Fatalf("LoadByID = %v, %v", byID, err)
	}
}

func TestSQLiteStore_SaveUpdatesInPlace(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	rec := &ScanRecord{ID: "update-id", TargetURL: "http://example.com/"}
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("first Save returned error: %v", err)
	}
	rec.Vulnerable = 3
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("second Save returned error: %v", err)
	}

	summaries, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("List returned %d summaries, want 1", len(summaries))
	}
	if summaries[0].Vulnerable != 3 {
		t.Errorf("Vulnerable = %d, want 3", summaries[0].Vulnerable)
	}
	if summaries[0].UpdatedAt.IsZero() {
		t.Error("UpdatedAt is zero")
	}
}

func TestSQLiteStore_LoadNotFound(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if rec, err := store.Load(ctx, "http://nowhere.test/"); err != nil || rec != nil {
		t.Errorf("Load = %v, %v; want nil, nil", rec, err)
	}
	if rec, err := store.LoadByID(ctx, "missing"); err != nil || rec != nil {
		t.Errorf("LoadByID = %v, %v; want nil, nil", rec, err)
	}
}

func TestSQLiteStore_Findings(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	sink := Recorder(store, "scan-1")
	base := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	reports := []engine.VulnReport{
		{Type: "reflected", URL: "http://a.test/?q=1", Parameter: "q", Payload: "<script>", PayloadType: "none", Timestamp: base.Add(time.Second)},
		{Type: "dom", URL: "http://b.test/", Parameter: "x", Payload: "p", PayloadType: "url", Timestamp: base},
		{Type: "reflected", URL: "http://a.test/?q=1", Parameter: "id", Payload: "p2", PayloadType: "html", Timestamp: base.Add(2 * time.Second)},
	}
	for _, r := range reports {
		if err := sink.Notify(ctx, r); err != nil {
			t.Fatalf("Notify returned error: %v", err)
		}
	}

	got, err := store.Findings(ctx, "http://a.test/?q=1")
	if err != nil {
		t.Fatalf("Findings returned error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Findings returned %d, want 2", len(got))
	}
	if got[0].Parameter != "q" || got[1].Parameter != "id" {
		t.Errorf("order = %s, %s; want q, id", got[0].Parameter, got[1].Parameter)
	}
	if got[0].ScanID != "scan-1" || got[0].ID == "" {
		t.Errorf("finding = %+v", got[0])
	}
	if !got[0].Timestamp.Equal(base.Add(time.Second)) {
		t.Errorf("Timestamp = %v", got[0].Timestamp)
	}

	all, err := store.Findings(ctx, "")
	if err != nil {
		t.Fatalf("Findings(all) returned error: %v", err)
	}
	if len(all) != 3 || all[0].Type != "dom" {
		t.Errorf("Findings(all) = %d, first %q", len(all), all[0].Type)
	}
}

func TestSQLiteStore_DeleteRemovesFindings(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, &ScanRecord{ID: "gone", TargetURL: "http://a.test/"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.AddFinding(ctx, "gone", engine.VulnReport{Type: "reflected", URL: "http://a.test/"}); err != nil {
		t.Fatalf("AddFinding: %v", err)
	}
	if err := store.Delete(ctx, "gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if rec, _ := store.LoadByID(ctx, "gone"); rec != nil {
		t.Error("record still present after Delete")
	}
	if f, _ := store.Findings(ctx, ""); len(f) != 0 {
		t.Errorf("%d findings remain after Delete", len(f))
	}
}

func TestSQLiteStore_Cleanup(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for _, id := range []string{"old", "new"} {
		if err := store.Save(ctx, &ScanRecord{ID: id, TargetURL: "http://example.com/" + id}); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}
	_, err := store.db.ExecContext(ctx,
		"UPDATE scans SET updated_at = ? WHERE id = ?",
		time.Now().Add(-48*time.Hour).UTC().Format(timeLayout),
		"old",
	)
	if err != nil {
		t.Fatalf("backdate record: %v", err)
	}

	deleted, err := store.Cleanup(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Cleanup returned error: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Cleanup deleted %d records, want 1", deleted)
	}
	if rec, _ := store.LoadByID(ctx, "old"); rec != nil {
		t.Error("old record still exists after cleanup")
	}
	if rec, _ := store.LoadByID(ctx, "new"); rec == nil {
		t.Error("new record was removed by cleanup")
	}
}
