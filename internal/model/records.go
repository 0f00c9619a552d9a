package model

// CatRecord is the wire representation of a category.
type CatRecord struct {
	UUID    string         `json:"uuid"`
	Name    string         `json:"name"`
	Age     int64          `json:"age"`
	Deleted bool           `json:"deleted"`
	Extras  []ExtraRecord  `json:"extras,omitempty"`
	Flavors []FlavorRecord `json:"flavors,omitempty"`
}

// ExtraRecord carries an extra field definition (on a category) or an extra
// field value (on an entry).
type ExtraRecord struct {
	UUID    string `json:"uuid"`
	Name    string `json:"name,omitempty"`
	Pos     int    `json:"pos"`
	Deleted bool   `json:"deleted,omitempty"`
	Value   string `json:"value,omitempty"`
}

// FlavorRecord carries a flavor axis and, on entries, its value.
type FlavorRecord struct {
	Name  string `json:"name"`
	Pos   int    `json:"pos"`
	Value int    `json:"value"`
}

// EntryRecord is the wire representation of an entry.
type EntryRecord struct {
	UUID     string         `json:"uuid"`
	CatUUID  string         `json:"catUuid"`
	Title    string         `json:"title"`
	Maker    string         `json:"maker,omitempty"`
	Origin   string         `json:"origin,omitempty"`
	Price    string         `json:"price,omitempty"`
	Location string         `json:"location,omitempty"`
	Date     int64          `json:"date"`
	Rating   float64        `json:"rating"`
	Notes    string         `json:"notes,omitempty"`
	Age      int64          `json:"age"`
	Deleted  bool           `json:"deleted"`
	Extras   []ExtraRecord  `json:"extras,omitempty"`
	Flavors  []FlavorRecord `json:"flavors,omitempty"`
	Photos   []PhotoRecord  `json:"photos,omitempty"`
}

// PhotoRecord identifies a photo by content hash and carries the blob store
// id once known.
type PhotoRecord struct {
	Hash   string `json:"hash"`
	BlobID string `json:"blobId,omitempty"`
	Pos    int    `json:"pos"`
}

// Updates is the pull manifest: UUIDs of everything the remote has touched
// since the caller's last sync, each mapped to its age in milliseconds.
type Updates struct {
	DeletedCategories map[string]int64 `json:"deletedCats"`
	DeletedEntries    map[string]int64 `json:"deletedEntries"`
	UpdatedCategories map[string]int64 `json:"updatedCats"`
	UpdatedEntries    map[string]int64 `json:"updatedEntries"`
}

// CategoryRecord converts a hydrated category into its wire form.
func CategoryRecord(c *Category, now int64) *CatRecord {
	rec := &CatRecord{
		UUID: c.UUID,
		Name: c.Name,
		Age:  AgeOf(c.Updated, now),
	}
	for _, x := range c.Extras {
		rec.Extras = append(rec.Extras, ExtraRecord{
			UUID:    x.UUID,
			Name:    x.Name,
			Pos:     x.Pos,
			Deleted: x.Deleted,
		})
	}
	for _, f := range c.Flavors {
		rec.Flavors = append(rec.Flavors, FlavorRecord{Name: f.Name, Pos: f.Pos})
	}
	return rec
}

// EntryRecordOf converts a hydrated entry into its wire form. Photos without
// a hash are left out; they are picked up on a later cycle.
func EntryRecordOf(e *Entry, now int64) *EntryRecord {
	rec := &EntryRecord{
		UUID:     e.UUID,
		CatUUID:  e.CatUUID,
		Title:    e.Title,
		Maker:    e.Maker,
		Origin:   e.Origin,
		Price:    e.Price,
		Location: e.Location,
		Date:     e.Date,
		Rating:   e.Rating,
		Notes:    e.Notes,
		Age:      AgeOf(e.Updated, now),
	}
	for _, x := range e.Extras {
		rec.Extras = append(rec.Extras, ExtraRecord{UUID: x.ExtraUUID, Value: x.Value})
	}
	for _, f := range e.Flavors {
		rec.Flavors = append(rec.Flavors, FlavorRecord{Name: f.Name, Pos: f.Pos, Value: f.Value})
	}
	for _, p := range e.Photos {
		if p.Hash == "" {
			continue
		}
		rec.Photos = append(rec.Photos, PhotoRecord{Hash: p.Hash, BlobID: p.BlobID, Pos: p.Pos})
	}
	return rec
}

// DeletedCategoryRecord builds the record announcing a category deletion.
func DeletedCategoryRecord(t Tombstone, now int64) *CatRecord {
	return &CatRecord{UUID: t.Ref, Age: AgeOf(t.Time, now), Deleted: true}
}

// DeletedEntryRecord builds the record announcing an entry deletion.
func DeletedEntryRecord(t Tombstone, now int64) *EntryRecord {
	return &EntryRecord{UUID: t.Ref, Age: AgeOf(t.Time, now), Deleted: true}
}
