package archive

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/lindenwick/folio/core/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestCreateExtractRoundTrip(t *testing.T) {
	src := t.TempDir()
	db := writeFile(t, src, "library.db", "sqlite bytes")
	cfg := writeFile(t, src, "settings.json", `{"theme":"dark"}`)
	backup := filepath.Join(t.TempDir(), "folio-backup.tar.xz")

	if err := Create(backup, db, cfg); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	dest := t.TempDir()
	if err := Extract(backup, dest); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	for name, want := range map[string]string{
		"library.db":    "sqlite bytes",
		"settings.json": `{"theme":"dark"}`,
	} {
		data, err := os.ReadFile(filepath.Join(dest, name))
		if err != nil {
			t.Fatalf("restored %s unreadable: %v", name, err)
		}
		if string(data) != want {
			t.Errorf("restored %s = %q; want %q", name, data, want)
		}
	}
}

func TestCreateSkipsMissingSources(t *testing.T) {
	src := t.TempDir()
	db := writeFile(t, src, "library.db", "data")
	backup := filepath.Join(t.TempDir(), "backup.tar.xz")

	if err := Create(backup, db, filepath.Join(src, "no-settings.json")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	names, err := List(backup)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(names) != 1 || names[0] != "library.db" {
		t.Errorf("List() = %v; want just library.db", names)
	}
}

func TestCreateAllSourcesMissing(t *testing.T) {
	backup := filepath.Join(t.TempDir(), "backup.tar.xz")
	err := Create(backup, filepath.Join(t.TempDir(), "ghost.db"))
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Create with no existing sources = %v; want ErrNotFound", err)
	}
}

func TestExtractFlattensEntryNames(t *testing.T) {
	src := t.TempDir()
	nestedDir := filepath.Join(src, "deep")
	if err := os.Mkdir(nestedDir, 0o755); err != nil {
		t.Fatal(err)
	}
	nested := writeFile(t, nestedDir, "library.db", "nested")
	backup := filepath.Join(t.TempDir(), "backup.tar.xz")

	if err := Create(backup, nested); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	dest := t.TempDir()
	if err := Extract(backup, dest); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "library.db")); err != nil {
		t.Errorf("flattened entry missing: %v", err)
	}
}

func TestExtractRejectsGarbage(t *testing.T) {
	bogus := writeFile(t, t.TempDir(), "bogus.tar.xz", "not xz at all")
	if err := Extract(bogus, t.TempDir()); !errors.Is(err, errors.ErrCorrupted) {
		t.Errorf("Extract of garbage = %v; want ErrCorrupted", err)
	}
}

func TestList(t *testing.T) {
	src := t.TempDir()
	a := writeFile(t, src, "a.txt", "a")
	b := writeFile(t, src, "b.txt", "b")
	backup := filepath.Join(t.TempDir(), "backup.tar.xz")

	if err := Create(backup, a, b); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	names, err := List(backup)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	sort.Strings(names)
	if len(names) != 2 || names[0] != "a.txt" || names[1] != "b.txt" {
		t.Errorf("List() = %v; want [a.txt b.txt]", names)
	}
}
