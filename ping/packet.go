package ping

import (
	"bytes"
	"encoding/binary"
)

// PacketSize is the length of a probe datagram on the wire.
const PacketSize = 20

// Magic prefixes every probe datagram.
var Magic = [4]byte{'P', 'I', 'N', 'G'}

// Encode builds a probe datagram. The timestamp is microseconds relative to
// the sender's session start and is only echoed back, never interpreted.
func Encode(seq, timestampUS uint64) [PacketSize]byte {
	var b [PacketSize]byte
	copy(b[0:4], Magic[:])
	binary.BigEndian.PutUint64(b[4:12], seq)
	binary.BigEndian.PutUint64(b[12:20], timestampUS)
	return b
}

// Decode parses a probe datagram. Trailing bytes past PacketSize are ignored.
func Decode(b []byte) (seq, timestampUS uint64, ok bool) {
	if !IsProbe(b) {
		return 0, 0, false
	}
	return binary.BigEndian.Uint64(b[4:12]), binary.BigEndian.Uint64(b[12:20]), true
}

// IsProbe reports whether b is long enough and carries the magic prefix.
func IsProbe(b []byte) bool {
	return len(b) >= PacketSize && bytes.Equal(b[0:4], Magic[:])
}
