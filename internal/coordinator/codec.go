package coordinator

import (
	"bytes"
	"encoding/gob"
)

// encodeChunk gob-encodes one chunk of input pairs for storage under
// job/<JobId>/chunk/<i>. internal/worker decodes the same wire shape
// (matching on exported field names, not package-qualified type
// identity) when a map task fetches its chunk.
func encodeChunk(ch []KV) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ch); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
