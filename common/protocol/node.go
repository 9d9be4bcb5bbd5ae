// Package protocol defines the on-air data model shared by every node in
// the mesh: node addressing, the layer-3 header, message type codes and
// their wire encodings. Nothing here depends on the radio, the auth
// channel or any particular node role.
package protocol

import "github.com/stustanet/meshwatch/common/util"

// NodeId addresses a single node in the mesh. It is carried on the wire
// as a single byte, so the usable range is [0, MaxNodeID].
type NodeId uint8

const (
	// MaxNodeID is the highest assignable node id.
	MaxNodeID NodeId = 254

	// InvalidNode is the sentinel used for "no route" / "no node" everywhere
	// a NodeId field exists but has no valid value.
	InvalidNode NodeId = 255
)

// Valid reports whether id is usable as a destination or routing table
// index (i.e. not the INVALID sentinel and within range).
func (id NodeId) Valid() bool {
	return id <= MaxNodeID
}

// RFConfig is the immutable-per-boot radio configuration every node is
// provisioned with. It is never renegotiated over the air.
type RFConfig struct {
	// CarrierHz is the carrier frequency in Hz, within [433.2, 434.6] MHz.
	CarrierHz uint32
	// TxPowerDb is the transmit power in dB, <= 10.
	TxPowerDb int8
	// SpreadFactor is the LoRa spreading factor, 7..12.
	SpreadFactor uint8
	// Coderate is the LoRa coding rate denominator selector, 0..3.
	Coderate uint8
	// BandwidthIdx selects the channel bandwidth; 7 = 125kHz, 8 = 250kHz, 9 = 500kHz.
	BandwidthIdx uint8
}

// bandwidthHz maps the wire bandwidth index to an actual bandwidth, used
// only to decide whether low-data-rate-optimize must be enabled.
var bandwidthHz = map[uint8]uint32{
	7: 125000,
	8: 250000,
	9: 500000,
}

// SymbolTimeMicros returns the LoRa symbol time for this configuration,
// or 0 if the bandwidth index is unrecognized.
func (c RFConfig) SymbolTimeMicros() uint32 {
	bw, ok := bandwidthHz[c.BandwidthIdx]
	if !ok || bw == 0 {
		return 0
	}
	return (uint32(1) << c.SpreadFactor) * 1000000 / bw
}

// LowDataRateOptimize reports whether the low-data-rate-optimize flag
// must be set for this configuration: true once the symbol time exceeds
// 16ms.
func (c RFConfig) LowDataRateOptimize() bool {
	return c.SymbolTimeMicros() > 16000
}

// Validate checks the RF parameters against the allowed ranges.
func (c RFConfig) Validate() error {
	if c.CarrierHz < 433200000 || c.CarrierHz > 434600000 {
		return util.ErrBadParam
	}
	if c.TxPowerDb > 10 {
		return util.ErrBadParam
	}
	if c.SpreadFactor < 7 || c.SpreadFactor > 12 {
		return util.ErrBadParam
	}
	if c.Coderate > 3 {
		return util.ErrBadParam
	}
	if _, ok := bandwidthHz[c.BandwidthIdx]; !ok {
		return util.ErrBadParam
	}
	return nil
}
