package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/use-agent/pagefetch/models"
)

func resp(body string) *models.FetchAPIResponse {
	return &models.FetchAPIResponse{
		Success:    true,
		Result:     &models.CapturedResponse{Header: map[string]string{"X": "1"}, Code: 200, Body: body},
		EngineUsed: "rod",
	}
}

func TestKey(t *testing.T) {
	base := models.NewFetchRequest("https://example.com/")
	k := Key(base, "rod", "", "")
	if len(k) != 64 {
		t.Fatalf("Key() length = %d, want sha256 hex", len(k))
	}
	if Key(base, "rod", "", "") != k {
		t.Error("Key must be deterministic")
	}

	charset := *base
	charset.Charset = "gbk"
	if Key(&charset, "rod", "", "") != k {
		t.Error("charset must not change the key")
	}

	empty := ""
	variants := map[string]func(r *models.FetchRequest){
		"cookie":  func(r *models.FetchRequest) { r.Cookie = "a=1" },
		"delay":   func(r *models.FetchRequest) { r.SettleDelayMs = 500 },
		"method":  func(r *models.FetchRequest) { r.Method = models.MethodPost },
		"body":    func(r *models.FetchRequest) { r.Body = &empty },
		"ua":      func(r *models.FetchRequest) { r.UserAgent = "bot" },
		"stealth": func(r *models.FetchRequest) { r.Stealth = true },
	}
	for name, mutate := range variants {
		r := *base
		mutate(&r)
		if Key(&r, "rod", "", "") == k {
			t.Errorf("changing %s must change the key", name)
		}
	}
	if Key(base, "http", "", "") == k || Key(base, "rod", "text", "") == k || Key(base, "rod", "", "p") == k {
		t.Error("engine, format and selector must change the key")
	}
}

func TestEntryFresh(t *testing.T) {
	now := time.Now()
	e := Entry{CreatedAt: now.Add(-2 * time.Second)}
	if !e.Fresh(5*time.Second, now) {
		t.Error("2s old entry should be fresh for 5s")
	}
	if e.Fresh(time.Second, now) {
		t.Error("2s old entry should be stale for 1s")
	}
	if e.Fresh(0, now) {
		t.Error("zero max age never serves from cache")
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(2, time.Hour)
	defer c.Close()

	clock := time.Unix(1000, 0)
	c.now = func() time.Time { return clock }

	if _, ok, _ := c.Get(ctx, "a"); ok {
		t.Fatal("empty store reported a hit")
	}

	c.Set(ctx, "a", resp("A"))
	clock = clock.Add(time.Second)
	c.Set(ctx, "b", resp("B"))
	clock = clock.Add(time.Second)
	c.Set(ctx, "c", resp("C")) // evicts a, the oldest

	if _, ok, _ := c.Get(ctx, "a"); ok {
		t.Error("oldest entry should have been evicted")
	}
	e, ok, err := c.Get(ctx, "c")
	if err != nil || !ok || e.Response.Result.Body != "C" {
		t.Errorf("Get(c) = %+v, %v, %v", e, ok, err)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}

	clock = clock.Add(2 * time.Hour)
	if _, ok, _ := c.Get(ctx, "c"); ok {
		t.Error("entry older than TTL must not be returned")
	}
	c.prune()
	if c.Len() != 0 {
		t.Errorf("Len() after prune = %d, want 0", c.Len())
	}
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sub", "cache.db")
	s, err := OpenSQLite(path, 2, time.Hour)
	if err != nil {
		t.Fatalf("OpenSQLite() = %v", err)
	}
	defer s.Close()

	clock := time.Unix(1000, 0)
	s.now = func() time.Time { return clock }

	if _, ok, err := s.Get(ctx, "a"); ok || err != nil {
		t.Fatalf("Get on empty store = %v, %v", ok, err)
	}

	for _, k := range []string{"a", "b", "c"} {
		if err := s.Set(ctx, k, resp(k)); err != nil {
			t.Fatalf("Set(%s) = %v", k, err)
		}
		clock = clock.Add(time.Second)
	}

	if _, ok, _ := s.Get(ctx, "a"); ok {
		t.Error("oldest row should have been evicted")
	}
	e, ok, err := s.Get(ctx, "c")
	if err != nil || !ok {
		t.Fatalf("Get(c) = %v, %v", ok, err)
	}
	if e.Response.Result.Body != "c" || e.Response.Result.Header["X"] != "1" || e.Response.EngineUsed != "rod" {
		t.Errorf("round-tripped response = %+v", e.Response)
	}
	if !e.CreatedAt.Equal(time.Unix(1002, 0)) {
		t.Errorf("CreatedAt = %v", e.CreatedAt)
	}

	// Overwrite keeps a single row and refreshes the timestamp.
	if err := s.Set(ctx, "c", resp("c2")); err != nil {
		t.Fatal(err)
	}
	e, _, _ = s.Get(ctx, "c")
	if e.Response.Result.Body != "c2" {
		t.Errorf("overwrite not applied: %q", e.Response.Result.Body)
	}

	clock = clock.Add(2 * time.Hour)
	if _, ok, _ := s.Get(ctx, "c"); ok {
		t.Error("expired row must not be returned")
	}
	n, err := s.prune(ctx)
	if err != nil || n != 2 {
		t.Errorf("prune() = %d, %v, want 2 rows", n, err)
	}
}

func TestSQLiteStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	s, err := OpenSQLite(path, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "k", resp("persisted")); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = OpenSQLite(path, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	e, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || e.Response.Result.Body != "persisted" {
		t.Errorf("after reopen Get(k) = %+v, %v, %v", e, ok, err)
	}
}

func TestSQLiteStore_CleanupLoopDeletesExpiredRows(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "cache.db"), 10, 40*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.Set(ctx, "k", resp("old")); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		var rows int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fetch_cache`).Scan(&rows); err != nil {
			t.Fatal(err)
		}
		if rows == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("%d expired rows still present", rows)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
