package migrations

import (
	"io/fs"
	"slices"
	"testing"
)

func TestFor_DialectsShareVersions(t *testing.T) {
	names := func(dialect string) []string {
		t.Helper()
		fsys, err := For(dialect)
		if err != nil {
			t.Fatalf("For(%q) failed: %v", dialect, err)
		}
		entries, err := fs.ReadDir(fsys, ".")
		if err != nil {
			t.Fatalf("ReadDir failed: %v", err)
		}
		var out []string
		for _, e := range entries {
			out = append(out, e.Name())
		}
		return out
	}

	mysql, sqlite := names("mysql"), names("sqlite")
	if len(mysql) == 0 {
		t.Fatal("expected embedded mysql migrations")
	}
	if !slices.Equal(mysql, sqlite) {
		t.Errorf("want same migration files, mysql=%v sqlite=%v", mysql, sqlite)
	}
}

func TestFor_UnknownDialect(t *testing.T) {
	if _, err := For("postgres"); err == nil {
		t.Error("want error for unsupported dialect")
	}
}
