package favorites

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/qubesos/qubes-appmenu/internal/qube"
)

var firefox = qube.AppID{Qube: "work", App: "firefox"}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "favorites.yml")

	s := NewFileStore(path)
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Load on missing file = %v, want empty", got)
	}

	if err := s.Set(ctx, "work:firefox", true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "personal:thunderbird", true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "personal:thunderbird", false); err != nil {
		t.Fatalf("Set: %v", err)
	}

	reopened, err := NewFileStore(path).Load(ctx)
	if err != nil {
		t.Fatalf("Load after write: %v", err)
	}
	if diff := cmp.Diff(map[string]bool{"work:firefox": true}, reopened); diff != "" {
		t.Errorf("favorites mismatch (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}
}

func TestFileStoreSetWithoutLoadKeepsExisting(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "favorites.yml")
	if err := os.WriteFile(path, []byte("\"work:firefox\": true\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	s := NewFileStore(path)
	if err := s.Set(ctx, "work:xterm", true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, _ := NewFileStore(path).Load(ctx)
	if !got["work:firefox"] || !got["work:xterm"] {
		t.Errorf("favorites = %v, want both entries", got)
	}
}

func TestFileStoreFailedWriteKeepsPreviousFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "favorites.yml")
	s := NewFileStore(path)
	if err := s.Set(ctx, "work:firefox", true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("mode = %o, want 600", perm)
	}

	// A directory in the temp file's place makes the write fail.
	if err := os.Mkdir(path+".tmp", 0o700); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "work:xterm", true); err == nil {
		t.Fatal("expected write error")
	}
	got, err := NewFileStore(path).Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]bool{"work:firefox": true}, got); diff != "" {
		t.Errorf("favorites mismatch (-want +got):\n%s", diff)
	}
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "favorites.yml")
	if err := os.WriteFile(path, []byte("{not: [yaml"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStore(path).Load(context.Background()); err == nil {
		t.Fatal("expected parse error for corrupt file")
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "favorites.db")

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := s.Set(ctx, "work:firefox", true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "work:firefox", true); err != nil {
		t.Fatalf("Set twice: %v", err)
	}
	if err := s.Set(ctx, "work:xterm", true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "work:xterm", false); err != nil {
		t.Fatalf("Unset: %v", err)
	}
	s.Close()

	s, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(map[string]bool{"work:firefox": true}, got); diff != "" {
		t.Errorf("favorites mismatch (-want +got):\n%s", diff)
	}
}

type failingStore struct {
	loadErr error
	setErr  error
	sets    int
}

func (f *failingStore) Load(ctx context.Context) (map[string]bool, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return map[string]bool{}, nil
}

func (f *failingStore) Set(ctx context.Context, key string, favorite bool) error {
	f.sets++
	return f.setErr
}

func (f *failingStore) Close() error { return nil }

func TestAdapterToggle(t *testing.T) {
	ctx := context.Background()
	a := NewAdapter(NewMemoryStore(nil), nil)
	if _, err := a.Load(ctx); err != nil {
		t.Fatal(err)
	}

	res, err := a.Toggle(ctx, firefox)
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if !res.Favorite || !res.Persisted {
		t.Errorf("Toggle result = %+v, want favorite and persisted", res)
	}
	if !a.IsFavorite(firefox) {
		t.Error("IsFavorite = false after toggle on")
	}

	res, _ = a.Toggle(ctx, firefox)
	if res.Favorite || a.IsFavorite(firefox) {
		t.Error("second toggle should clear the favorite")
	}
}

func TestAdapterLoadFailureDegrades(t *testing.T) {
	store := &failingStore{loadErr: errors.New("disk on fire")}
	a := NewAdapter(store, nil)

	set, err := a.Load(context.Background())
	if !errors.Is(err, qube.ErrPersistence) {
		t.Fatalf("Load err = %v, want ErrPersistence", err)
	}
	if len(set) != 0 {
		t.Errorf("Load set = %v, want empty", set)
	}
	if !a.Degraded() {
		t.Error("adapter should be degraded after load failure")
	}

	res, err := a.Toggle(context.Background(), firefox)
	if err != nil {
		t.Errorf("Toggle in degraded mode err = %v, want nil (already warned)", err)
	}
	if res.Persisted || !res.Favorite {
		t.Errorf("Toggle result = %+v, want in-memory favorite", res)
	}
	if store.sets != 0 {
		t.Errorf("store written %d times while degraded, want 0", store.sets)
	}
}

func TestAdapterWriteFailureWarnsOnce(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{setErr: errors.New("read-only filesystem")}
	a := NewAdapter(store, nil)
	a.Load(ctx)

	res, err := a.Toggle(ctx, firefox)
	if !errors.Is(err, qube.ErrPersistence) {
		t.Fatalf("first failure err = %v, want ErrPersistence", err)
	}
	if res.Persisted {
		t.Error("result claims persisted after write failure")
	}
	if !a.IsFavorite(firefox) {
		t.Error("favorite should be kept in memory")
	}

	if _, err := a.Toggle(ctx, qube.AppID{Qube: "work", App: "xterm"}); err != nil {
		t.Errorf("second failure err = %v, want nil", err)
	}
	if store.sets != 1 {
		t.Errorf("store.Set called %d times, want 1", store.sets)
	}
}

func TestUnavailableStoreDegradesOnLoad(t *testing.T) {
	a := NewAdapter(Unavailable(errors.New("unable to open database file")), nil)
	if _, err := a.Load(context.Background()); !errors.Is(err, qube.ErrPersistence) {
		t.Fatalf("Load err = %v, want ErrPersistence", err)
	}
	if !a.Degraded() {
		t.Error("adapter should be degraded")
	}
}
