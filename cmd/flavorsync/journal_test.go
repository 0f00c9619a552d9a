package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/flavordex/flavorsync/internal/model"
	"github.com/flavordex/flavorsync/internal/store"
)

func TestWriteJournal(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	beer := &model.Category{Name: "Beer"}
	wine := &model.Category{Name: "Wine"}
	for _, c := range []*model.Category{wine, beer} {
		if err := st.InsertCategory(ctx, c); err != nil {
			t.Fatalf("InsertCategory: %v", err)
		}
	}
	if err := st.MarkCategorySynced(ctx, beer.UUID, beer.Updated); err != nil {
		t.Fatalf("MarkCategorySynced: %v", err)
	}
	pushed := &model.Entry{CatUUID: beer.UUID, Title: "Stout"}
	pending := &model.Entry{CatUUID: beer.UUID, Title: "Porter"}
	for _, e := range []*model.Entry{pushed, pending} {
		if err := st.InsertEntry(ctx, e); err != nil {
			t.Fatalf("InsertEntry: %v", err)
		}
	}
	if err := st.MarkEntrySynced(ctx, pushed.UUID, pushed.Updated); err != nil {
		t.Fatalf("MarkEntrySynced: %v", err)
	}

	var buf bytes.Buffer
	if err := writeJournal(ctx, &buf, st, false); err != nil {
		t.Fatalf("writeJournal: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q, want one per category", lines)
	}
	if !strings.Contains(lines[0], "Beer") || !strings.HasSuffix(lines[0], "2 entries, 1 unsynced") {
		t.Errorf("beer line = %q", lines[0])
	}
	if !strings.Contains(lines[1], "Wine") || !strings.HasSuffix(lines[1], "0 entries, category unsynced") {
		t.Errorf("wine line = %q", lines[1])
	}

	buf.Reset()
	if err := writeJournal(ctx, &buf, st, true); err != nil {
		t.Fatalf("writeJournal: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "    * Porter\n") || !strings.Contains(out, "      Stout\n") {
		t.Errorf("entry listing = %q", out)
	}
}

func TestWriteJournal_Empty(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	var buf bytes.Buffer
	if err := writeJournal(context.Background(), &buf, st, true); err != nil {
		t.Fatalf("writeJournal: %v", err)
	}
	if got := buf.String(); got != "  Journal is empty.\n" {
		t.Errorf("output = %q", got)
	}
}
