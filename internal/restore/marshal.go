package restore

import (
	"encoding/json"

	"github.com/skyvault-io/skyvault/internal/store"
)

// toJSONMap round-trips v through JSON into a store.JSONMap, the way
// every structured RestoreJob/RestoreStep column is populated.
func toJSONMap(v any) (store.JSONMap, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m store.JSONMap
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
