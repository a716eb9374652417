package storage

import (
	"context"
	"path/filepath"
	"testing"

	"kibot/pkg/logx"
)

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "store")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()

	type doc struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	var missing doc
	ok, err := st.Read(ctx, "subscriptions", &missing)
	if err != nil || ok {
		t.Fatalf("Read missing = (%v, %v), want (false, nil)", ok, err)
	}

	want := doc{Name: "x", Count: 3}
	if err := st.Write(ctx, "subscriptions", want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	var got doc
	ok, err = st.Read(ctx, "subscriptions", &got)
	if err != nil || !ok {
		t.Fatalf("Read = (%v, %v), want (true, nil)", ok, err)
	}
	if got != want {
		t.Fatalf("Read = %+v, want %+v", got, want)
	}

	// Overwrite replaces the document wholesale.
	want.Count = 9
	if err := st.Write(ctx, "subscriptions", want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := st.Read(ctx, "subscriptions", &got); err != nil {
		t.Fatal(err)
	}
	if got.Count != 9 {
		t.Fatalf("Count = %d, want 9", got.Count)
	}
}

func TestFileStoreRejectsBadCollectionNames(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "store")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()

	for _, name := range []string{"", "Sub", "../etc", "a b", "9lives"} {
		if err := st.Write(ctx, name, map[string]int{}); err == nil {
			t.Fatalf("collection %q accepted", name)
		}
	}
}

func TestOpenDrivers(t *testing.T) {
	t.Parallel()

	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("file driver without path accepted")
	}
	if _, err := Open(Config{Driver: "bolt"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}

	// Disabled storage is not an error; callers get no store at all.
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("none driver = (%v, %v), want (nil, nil)", st, err)
	}
	if st, err = Open(Config{}, logx.Nop()); err != nil || st != nil {
		t.Fatalf("empty driver = (%v, %v), want (nil, nil)", st, err)
	}
}
