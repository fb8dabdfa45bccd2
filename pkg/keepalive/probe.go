package keepalive

import (
	"golang.org/x/crypto/cryptobyte"
)

// probeMarker prefixes every default probe payload ("KA").
const probeMarker uint16 = 0x4B41

// EncodeProbe encodes the default probe payload for the given sequence
// number: a 2-byte marker followed by the big-endian sequence.
func EncodeProbe(seq uint32) []byte {
	var b cryptobyte.Builder
	b.AddUint16(probeMarker)
	b.AddUint32(seq)
	return b.BytesOrPanic()
}

// DecodeProbe parses a default probe payload and returns its sequence
// number. Returns false if the payload is not a probe.
func DecodeProbe(data []byte) (uint32, bool) {
	s := cryptobyte.String(data)
	var marker uint16
	var seq uint32
	if !s.ReadUint16(&marker) || marker != probeMarker {
		return 0, false
	}
	if !s.ReadUint32(&seq) || !s.Empty() {
		return 0, false
	}
	return seq, true
}

// IsProbe reports whether data looks like a default probe payload.
// Applications use this on the receive path to decide whether to call
// ProcessResponse instead of treating the bytes as application data.
func IsProbe(data []byte) bool {
	_, ok := DecodeProbe(data)
	return ok
}
