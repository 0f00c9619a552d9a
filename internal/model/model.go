// Package model defines the journal records shared by the local store, the
// sync engine, and the remote adapters.
//
// Categories and entries are exchanged with the remote by UUID only; the
// int64 ID fields are local row ids and never leave the device.
package model

// Category is a grouping of entries such as "Beer" or "Coffee". It owns the
// definitions of the extra fields and flavors its entries carry.
type Category struct {
	ID        int64
	UUID      string
	Name      string
	Preset    bool
	Synced    bool
	Published bool

	// Updated is the local modification time in Unix milliseconds. It is the
	// tie-breaker when a remote change is compared against the local row.
	Updated int64

	Extras  []ExtraField
	Flavors []Flavor
}

// ExtraField is a named field definition attached to a category. Definitions
// are soft-deleted while entries still reference them.
type ExtraField struct {
	ID      int64
	UUID    string
	Name    string
	Pos     int
	Deleted bool
}

// ExtraValue is the value an entry holds for one of its category's extra
// fields, keyed by the field's UUID.
type ExtraValue struct {
	ExtraUUID string
	Name      string
	Pos       int
	Value     string
}

// Flavor is a named flavor axis. On a category only Name and Pos are
// meaningful; on an entry Value holds the rating for that axis.
type Flavor struct {
	Name  string
	Pos   int
	Value int
}

// Entry is a single journal record.
type Entry struct {
	ID        int64
	UUID      string
	CatUUID   string
	Title     string
	Maker     string
	Origin    string
	Price     string
	Location  string
	Date      int64
	Rating    float64
	Notes     string
	Synced    bool
	Published bool
	Updated   int64

	Extras  []ExtraValue
	Flavors []Flavor
	Photos  []Photo
}

// Photo references an image attached to an entry. Hash is the sync identity
// of the photo; BlobID and Path are filled in as the photo is uploaded to or
// downloaded from the blob store. Empty strings mean "not yet known".
type Photo struct {
	ID      int64
	EntryID int64
	Hash    string
	BlobID  string
	Path    string
	Pos     int
}

// TombstoneKind discriminates the record type a tombstone refers to.
type TombstoneKind int

const (
	// KindCategory marks a deleted category; Ref is the category UUID.
	KindCategory TombstoneKind = 0
	// KindEntry marks a deleted entry; Ref is the entry UUID.
	KindEntry TombstoneKind = 1
	// KindPhoto marks a deleted photo; Ref is the photo hash. Photo removal
	// reaches the remote through the owning entry's photo list, so these
	// tombstones never need an acknowledgement of their own.
	KindPhoto TombstoneKind = 2
)

// String returns a short label for logs.
func (k TombstoneKind) String() string {
	switch k {
	case KindCategory:
		return "category"
	case KindEntry:
		return "entry"
	case KindPhoto:
		return "photo"
	default:
		return "unknown"
	}
}

// Tombstone records a locally deleted item that the remote has not yet
// acknowledged.
type Tombstone struct {
	ID   int64
	Kind TombstoneKind
	Ref  string
	Time int64
}
