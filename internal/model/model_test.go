package model

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Age conversion
// ---------------------------------------------------------------------------

func TestAgeRoundTrip(t *testing.T) {
	tests := []struct {
		updated, now int64
		wantAge      int64
	}{
		{1000, 1000, 0},
		{850, 900, 50},
		{1100, 3100, 2000},
		{5000, 4000, -1000}, // clock skew yields a negative age
	}
	for _, tt := range tests {
		age := AgeOf(tt.updated, tt.now)
		if age != tt.wantAge {
			t.Errorf("AgeOf(%d, %d) = %d, want %d", tt.updated, tt.now, age, tt.wantAge)
		}
		if got := TimeFromAge(age, tt.now); got != tt.updated {
			t.Errorf("TimeFromAge(%d, %d) = %d, want %d", age, tt.now, got, tt.updated)
		}
	}
}

// ---------------------------------------------------------------------------
// Record conversion
// ---------------------------------------------------------------------------

func TestEntryRecordOf_SkipsUnhashedPhotos(t *testing.T) {
	e := &Entry{
		UUID:    "e-1",
		CatUUID: "c-1",
		Title:   "Pilsner",
		Updated: 700,
		Flavors: []Flavor{{Name: "Sweet", Pos: 0, Value: 3}},
		Extras:  []ExtraValue{{ExtraUUID: "x-1", Value: "5%"}},
		Photos: []Photo{
			{Hash: "abc", BlobID: "photos/abc/1", Pos: 0},
			{Path: "/tmp/pending.jpg", Pos: 1},
		},
	}

	rec := EntryRecordOf(e, 1000)
	if rec.Age != 300 {
		t.Errorf("Age = %d, want 300", rec.Age)
	}
	if rec.CatUUID != "c-1" {
		t.Errorf("CatUUID = %q, want c-1", rec.CatUUID)
	}
	if len(rec.Photos) != 1 || rec.Photos[0].Hash != "abc" {
		t.Errorf("Photos = %+v, want only the hashed photo", rec.Photos)
	}
	if len(rec.Extras) != 1 || rec.Extras[0].UUID != "x-1" || rec.Extras[0].Value != "5%" {
		t.Errorf("Extras = %+v", rec.Extras)
	}
	if rec.Deleted {
		t.Error("Deleted = true, want false")
	}
}

func TestCategoryRecord_CarriesDeletedExtras(t *testing.T) {
	c := &Category{
		UUID:    "c-1",
		Name:    "Beer",
		Updated: 10,
		Extras: []ExtraField{
			{UUID: "x-1", Name: "ABV", Pos: 0},
			{UUID: "x-2", Name: "IBU", Pos: 1, Deleted: true},
		},
	}
	rec := CategoryRecord(c, 20)
	if len(rec.Extras) != 2 {
		t.Fatalf("Extras len = %d, want 2", len(rec.Extras))
	}
	if !rec.Extras[1].Deleted {
		t.Error("deleted extra definition lost its tombstone flag")
	}
	if rec.Age != 10 {
		t.Errorf("Age = %d, want 10", rec.Age)
	}
}

func TestDeletedRecords(t *testing.T) {
	ts := Tombstone{Kind: KindEntry, Ref: "e-9", Time: 400}
	rec := DeletedEntryRecord(ts, 1000)
	if !rec.Deleted || rec.UUID != "e-9" || rec.Age != 600 {
		t.Errorf("DeletedEntryRecord = %+v", rec)
	}
	crec := DeletedCategoryRecord(Tombstone{Kind: KindCategory, Ref: "c-9", Time: 1000}, 1000)
	if !crec.Deleted || crec.UUID != "c-9" || crec.Age != 0 {
		t.Errorf("DeletedCategoryRecord = %+v", crec)
	}
}

// ---------------------------------------------------------------------------
// Hashing
// ---------------------------------------------------------------------------

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.jpg")
	b := filepath.Join(dir, "b.jpg")
	if err := os.WriteFile(a, []byte("same bytes"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("same bytes"), 0o600); err != nil {
		t.Fatal(err)
	}

	ha, err := HashFile(a)
	if err != nil {
		t.Fatalf("HashFile(a): %v", err)
	}
	hb, err := HashFile(b)
	if err != nil {
		t.Fatalf("HashFile(b): %v", err)
	}
	if ha != hb {
		t.Errorf("identical content hashed differently: %s vs %s", ha, hb)
	}
	// md5("same bytes")
	want, _ := HashReader(strings.NewReader("same bytes"))
	if ha != want || len(ha) != 32 {
		t.Errorf("hash = %q, want %q", ha, want)
	}
}

func TestHashFile_Missing(t *testing.T) {
	if _, err := HashFile(filepath.Join(t.TempDir(), "nope.jpg")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestTombstoneKind_String(t *testing.T) {
	tests := []struct {
		k    TombstoneKind
		want string
	}{
		{KindCategory, "category"},
		{KindEntry, "entry"},
		{KindPhoto, "photo"},
		{TombstoneKind(7), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.k.String(); got != tt.want {
			t.Errorf("TombstoneKind(%d).String() = %q, want %q", tt.k, got, tt.want)
		}
	}
}
