package sensor

import "github.com/stustanet/meshwatch/common/util"

// splitHandshakeWire splits a raw unauthenticated handshake payload
// into its fixed-size message header and the 8-byte challenge that
// follows it, mirroring the original firmware's "append the challenge
// right after hdr_len bytes" convention (spec.md §4.2) rather than
// folding the challenge into the typed message codec.
func splitHandshakeWire(payload []byte, headerLen int) (header, challenge []byte, err error) {
	if len(payload) != headerLen+8 {
		return nil, nil, util.ErrWrongSize
	}
	return payload[:headerLen], payload[headerLen:], nil
}
