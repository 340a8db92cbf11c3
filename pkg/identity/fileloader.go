package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrNotConfigured is returned when no snapshot path is set. Lookups then
// miss for every key, which excludes all leads from default views but keeps
// the raw views working.
var ErrNotConfigured = errors.New("identity: snapshot path not configured")

// FileLoader reads the JSON snapshot the metagraph fetch job writes.
func FileLoader(path string) Loader {
	return LoaderFunc(func(ctx context.Context) (*Snapshot, error) {
		if path == "" {
			return nil, ErrNotConfigured
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read metagraph snapshot: %w", err)
		}

		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("decode metagraph snapshot: %w", err)
		}
		return &snap, nil
	})
}
