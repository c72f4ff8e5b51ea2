package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"listwatch/pkg/logx"
)

func openSQLiteTest(t *testing.T, path, source string) Store {
	t.Helper()
	st, err := Open(Config{Driver: "sqlite", Path: path}, source, logx.Nop())
	if err != nil {
		t.Fatalf("Open sqlite: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSQLiteContract(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "listings.db")
	st := openSQLiteTest(t, path, "alpha")

	ok, err := st.Exists(ctx)
	if err != nil || ok {
		t.Fatalf("Exists on fresh store = %v, %v", ok, err)
	}
	if err := st.Bootstrap(ctx, []string{"X-Y", "A-B"}, 1000); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if err := st.Bootstrap(ctx, []string{"C-D"}, 2000); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	if err := st.Append(ctx, []string{"C-D"}, 2000); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := st.Append(ctx, []string{"C-D"}, 2500); err != nil {
		t.Fatalf("Append retry: %v", err)
	}
	n, err := st.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 records, got %d", n)
	}

	items, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, want := range []string{"X-Y", "A-B", "C-D"} {
		if _, ok := items[want]; !ok {
			t.Fatalf("missing %s in %v", want, items)
		}
	}
}

func TestSQLiteSourcesIsolated(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "listings.db")
	a := openSQLiteTest(t, path, "alpha")
	b := openSQLiteTest(t, path, "beta")

	if err := a.Bootstrap(ctx, []string{"X-Y"}, 1000); err != nil {
		t.Fatalf("Bootstrap alpha: %v", err)
	}
	ok, err := b.Exists(ctx)
	if err != nil || ok {
		t.Fatalf("beta should not exist yet: %v, %v", ok, err)
	}
	if err := b.Bootstrap(ctx, []string{"X-Y"}, 2000); err != nil {
		t.Fatalf("Bootstrap beta: %v", err)
	}
	items, err := a.Load(ctx)
	if err != nil || len(items) != 1 {
		t.Fatalf("alpha state leaked: %v, %v", items, err)
	}
}
