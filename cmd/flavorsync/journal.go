package main

import (
	"context"
	"fmt"
	"io"

	"github.com/flavordex/flavorsync/internal/model"
)

// journalLister is the read side of the journal used by the status listing.
// Implemented by [store.Store].
type journalLister interface {
	ListCategories(ctx context.Context) ([]*model.Category, error)
	ListEntries(ctx context.Context, catUUID string) ([]*model.Entry, error)
}

// writeJournal prints one line per category with its entry count and how
// many of those entries have unpushed changes. With entries set, each entry
// is listed under its category.
func writeJournal(ctx context.Context, w io.Writer, j journalLister, entries bool) error {
	cats, err := j.ListCategories(ctx)
	if err != nil {
		return err
	}
	if len(cats) == 0 {
		fmt.Fprintln(w, "  Journal is empty.")
		return nil
	}
	for _, c := range cats {
		list, err := j.ListEntries(ctx, c.UUID)
		if err != nil {
			return err
		}
		unsynced := 0
		for _, e := range list {
			if !e.Synced {
				unsynced++
			}
		}
		line := fmt.Sprintf("  %-20s %d entries", c.Name, len(list))
		if unsynced > 0 {
			line += fmt.Sprintf(", %d unsynced", unsynced)
		}
		if !c.Synced {
			line += ", category unsynced"
		}
		fmt.Fprintln(w, line)
		if !entries {
			continue
		}
		for _, e := range list {
			mark := " "
			if !e.Synced {
				mark = "*"
			}
			fmt.Fprintf(w, "    %s %s\n", mark, e.Title)
		}
	}
	return nil
}
