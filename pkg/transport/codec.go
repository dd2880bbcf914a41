package transport

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// gobCodecName is selected per-call via grpc.CallContentSubtype so
// that every Envelope crossing the wire is gob-encoded instead of
// going through protobuf-generated marshalers — spec.md §1 leaves the
// peer RPC wire format explicitly out of scope, so there is no
// .proto-described schema to generate code from here.
const gobCodecName = "gob"

func init() {
	encoding.RegisterCodec(gobCodec{})
}

// gobCodec implements google.golang.org/grpc/encoding.Codec.
type gobCodec struct{}

func (gobCodec) Name() string { return gobCodecName }

func (gobCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("transport: gob marshal: %w", err)
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("transport: gob unmarshal: %w", err)
	}
	return nil
}

// Envelope carries one multiplexed RPC call: Method names which entry
// in a Registry should handle Payload, itself a gob encoding of the
// method's typed args or reply. Every peer RPC listed in spec.md §6
// (findSuccessor, notify, dhtPut, runMap, ...) rides inside an
// Envelope rather than getting its own generated message type.
type Envelope struct {
	Method  string
	Payload []byte
}
