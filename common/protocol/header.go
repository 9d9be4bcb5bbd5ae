package protocol

import (
	"encoding/binary"

	"github.com/stustanet/meshwatch/common/util"
)

// HeaderSize is the on-air size of Layer3Header in bytes.
const HeaderSize = 3

// MaxPacketSize is the largest packet (header + payload) the radio will
// accept in a single Send call.
const MaxPacketSize = 64

// MaxPayloadSize is the largest payload a Layer3Header can carry.
const MaxPayloadSize = MaxPacketSize - HeaderSize

// Layer3Header is the fixed 3-byte routing header prepended to every
// packet placed on the air. Fields are plain bytes on the wire; there is
// no padding to worry about, but encoding is still done field-by-field
// through Marshal/Unmarshal so the on-air layout never depends on struct
// layout decisions made by the compiler.
type Layer3Header struct {
	NextHop NodeId
	Dst     NodeId
	Src     NodeId
}

// Marshal writes the header into the first HeaderSize bytes of buf.
func (h Layer3Header) Marshal(buf []byte) error {
	if len(buf) < HeaderSize {
		return util.ErrBufferTooSmall
	}
	buf[0] = byte(h.NextHop)
	buf[1] = byte(h.Dst)
	buf[2] = byte(h.Src)
	return nil
}

// UnmarshalLayer3Header reads a header from the first HeaderSize bytes
// of buf.
func UnmarshalLayer3Header(buf []byte) (Layer3Header, error) {
	if len(buf) < HeaderSize {
		return Layer3Header{}, util.ErrWrongSize
	}
	return Layer3Header{
		NextHop: NodeId(buf[0]),
		Dst:     NodeId(buf[1]),
		Src:     NodeId(buf[2]),
	}, nil
}

// putU16 writes a little-endian uint16 at off and returns the next offset.
func putU16(buf []byte, off int, v uint16) int {
	binary.LittleEndian.PutUint16(buf[off:], v)
	return off + 2
}

// putU32 writes a little-endian uint32 at off and returns the next offset.
func putU32(buf []byte, off int, v uint32) int {
	binary.LittleEndian.PutUint32(buf[off:], v)
	return off + 4
}

// putU64 writes a little-endian uint64 at off and returns the next offset.
func putU64(buf []byte, off int, v uint64) int {
	binary.LittleEndian.PutUint64(buf[off:], v)
	return off + 8
}

// getU16 reads a little-endian uint16 at off and returns it with the next offset.
func getU16(buf []byte, off int) (uint16, int) {
	return binary.LittleEndian.Uint16(buf[off:]), off + 2
}

// getU32 reads a little-endian uint32 at off and returns it with the next offset.
func getU32(buf []byte, off int) (uint32, int) {
	return binary.LittleEndian.Uint32(buf[off:]), off + 4
}

// getU64 reads a little-endian uint64 at off and returns it with the next offset.
func getU64(buf []byte, off int) (uint64, int) {
	return binary.LittleEndian.Uint64(buf[off:]), off + 8
}
