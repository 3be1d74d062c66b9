package domain

import (
	"encoding/json"
	"fmt"
)

// Snapshotter is implemented by aggregates that support fast rehydration
// from the optional snapshot table.
type Snapshotter interface {
	Snapshot() (any, error)
	RestoreSnapshot(data []byte, version uint64) error
}

func unmarshalSnapshot(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	return nil
}
