package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flavordex/flavorsync/internal/store"
)

// stateKey is the meta key the scheduler state is stored under.
const stateKey = "sync_state"

// State is the scheduler's bookkeeping between cycles. It is passed into
// [Syncer.Sync] and the updated copy is persisted by the [Engine].
type State struct {
	LastAttempt  time.Time `json:"lastAttempt"`
	LastSync     time.Time `json:"lastSync"`
	FailureCount int       `json:"failureCount"`
	// AuthDisabled is set after the service rejected credentials that a
	// refresh could not fix. Cycles are skipped until it is cleared.
	AuthDisabled bool `json:"authDisabled"`
	// LastPhotoValidation is when the blob store listing was last compared
	// against local blob ids.
	LastPhotoValidation time.Time `json:"lastPhotoValidation"`
	// PhotosPending is set when the last photo pass left work undone, so
	// the next completed cycle runs another one.
	PhotosPending bool `json:"photosPending"`
}

// LoadState reads the persisted state. A store that has never saved one
// yields the zero State.
func LoadState(ctx context.Context, m MetaStore) (State, error) {
	var st State
	raw, err := m.GetMeta(ctx, stateKey)
	if errors.Is(err, store.ErrNotFound) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("reading sync state: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return State{}, fmt.Errorf("decoding sync state: %w", err)
	}
	return st, nil
}

// SaveState persists st.
func SaveState(ctx context.Context, m MetaStore, st State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding sync state: %w", err)
	}
	if err := m.SetMeta(ctx, stateKey, string(raw)); err != nil {
		return fmt.Errorf("writing sync state: %w", err)
	}
	return nil
}
