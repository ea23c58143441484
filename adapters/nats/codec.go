package nats

import (
	"encoding/binary"
	"fmt"

	"github.com/codewandler/notify-go/core/state"
)

// A stored value is a fixed header followed by the payload:
//
//	[0:8]  change stamp, big endian
//	[8:10] payload limit in bytes, big endian
//	[10:]  payload
//
// The KV revision is only used for optimistic concurrency. Keeping the stamp
// in the value makes it start at 0 and advance by one per write, like every
// other facility.
const headerSize = 10

type record struct {
	stamp state.Stamp
	limit int
	data  []byte
}

func (r record) encode() []byte {
	b := make([]byte, headerSize+len(r.data))
	binary.BigEndian.PutUint64(b[0:8], uint64(r.stamp))
	binary.BigEndian.PutUint16(b[8:10], uint16(r.limit))
	copy(b[headerSize:], r.data)
	return b
}

func decodeRecord(b []byte) (record, error) {
	if len(b) < headerSize {
		return record{}, fmt.Errorf("corrupt state record: %d bytes", len(b))
	}
	return record{
		stamp: state.Stamp(binary.BigEndian.Uint64(b[0:8])),
		limit: int(binary.BigEndian.Uint16(b[8:10])),
		data:  b[headerSize:],
	}, nil
}

func keyFor(name state.Name) string { return "state." + name.String() }
