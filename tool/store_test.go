package tool

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func storeBackends(t *testing.T) map[string]Store {
	t.Helper()

	sqliteStore, err := NewSQLiteStore(SQLiteStoreConfig{DSN: filepath.Join(t.TempDir(), "orchestrate.db")})
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { _ = sqliteStore.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	redisStore, err := NewRedisStore(RedisStoreConfig{Client: client, Prefix: "test"})
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}

	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   NewFileStore(filepath.Join(t.TempDir(), "tools.json")),
		"sqlite": sqliteStore,
		"redis":  redisStore,
	}
}

func TestStoresPutGetDeleteList(t *testing.T) {
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			entries, err := store.List(ctx)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(entries) != 0 {
				t.Fatalf("len(List()) = %d, want 0", len(entries))
			}

			entry := Entry{
				ID:          "ideogram_tool",
				Path:        "/opt/tools/ideogram_tool.py",
				Interpreter: "python3",
				Secrets:     map[string]string{"api_key": "IDEOGRAM_API_KEY"},
			}
			if err := store.Put(ctx, entry); err != nil {
				t.Fatalf("Put() error = %v", err)
			}
			if err := store.Put(ctx, Entry{ID: "airtable_tool", Path: "/opt/tools/airtable_tool.py"}); err != nil {
				t.Fatalf("Put() error = %v", err)
			}

			got, ok, err := store.Get(ctx, "ideogram_tool")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if !ok {
				t.Fatal("Get() ok = false, want true")
			}
			if got.Path != entry.Path || got.Interpreter != "python3" {
				t.Fatalf("Get() = %+v", got)
			}
			if got.Secrets["api_key"] != "IDEOGRAM_API_KEY" {
				t.Fatalf("Secrets[api_key] = %q", got.Secrets["api_key"])
			}

			entries, err = store.List(ctx)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(entries) != 2 || entries[0].ID != "airtable_tool" || entries[1].ID != "ideogram_tool" {
				t.Fatalf("List() = %+v", entries)
			}

			if err := store.Delete(ctx, "ideogram_tool"); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if err := store.Delete(ctx, "ideogram_tool"); err != nil {
				t.Fatalf("Delete() missing error = %v", err)
			}
			_, ok, err = store.Get(ctx, "ideogram_tool")
			if err != nil {
				t.Fatalf("Get() after delete error = %v", err)
			}
			if ok {
				t.Fatal("Get() after delete ok = true, want false")
			}
		})
	}
}

func TestFileStoreLoadsKeyedDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orchestrate_tools.json")
	doc := `{
  "tools": {
    "task_tool": {"path": "task_tool.py"},
    "gmail_tool": {"path": "gmail_tool.py", "interpreter": "python3"}
  }
}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	store := NewFileStore(path)
	got, ok, err := store.Get(context.Background(), "gmail_tool")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got.ID != "gmail_tool" || got.Path != "gmail_tool.py" || got.Interpreter != "python3" {
		t.Fatalf("Get() = %+v", got)
	}
}

func TestFileStoreWriteIsAtomicReplace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tools.json")
	store := NewFileStore(path)
	if err := store.Put(context.Background(), Entry{ID: "a", Path: "/a"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file should not remain, stat error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("store file missing: %v", err)
	}
}

func TestFileStoreEmptyPath(t *testing.T) {
	store := NewFileStore("")
	if _, err := store.List(context.Background()); err == nil {
		t.Fatal("List() error = nil, want non-nil")
	}
}

func TestSQLiteStoreCreatesParentDir(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "missing", "nested", "orchestrate.db")
	store, err := NewSQLiteStore(SQLiteStoreConfig{DSN: dsn})
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer store.Close()

	if err := store.Put(context.Background(), Entry{ID: "echo_tool", Path: "/bin/echo"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := os.Stat(dsn); err != nil {
		t.Fatalf("database file missing: %v", err)
	}
}

func TestEnsureSQLiteDirSkipsNonFileDSNs(t *testing.T) {
	for _, dsn := range []string{"", ":memory:", "file:orchestrate?mode=memory&cache=shared"} {
		if err := EnsureSQLiteDir(dsn); err != nil {
			t.Fatalf("EnsureSQLiteDir(%q) error = %v", dsn, err)
		}
	}
}
