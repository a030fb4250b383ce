package storage

import (
	"encoding/base64"
	"encoding/json"

	"github.com/scrypster/buddy/pkg/types"
)

// GenerateSyncCode produces a self-contained, copy-pasteable encoding of a
// settings record for manual device-to-device transfer. The encoding is
// reversible, not cryptographically protected: anyone holding the string
// can read the settings.
func GenerateSyncCode(s types.UserSettings) string {
	data, err := json.Marshal(s)
	if err != nil {
		// UserSettings contains only marshal-safe fields.
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}

// ImportSyncCode decodes a sync code back into a settings record. It
// validates that the decoded structure carries at least a name and a valid
// tone; anything else yields nil. A partially-valid record is never
// returned.
func ImportSyncCode(code string) *types.UserSettings {
	data, err := base64.StdEncoding.DecodeString(code)
	if err != nil {
		return nil
	}

	var s types.UserSettings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}

	if s.Name == "" || !s.Tone.Valid() {
		return nil
	}
	return &s
}
