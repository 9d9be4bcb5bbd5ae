// Package radio defines the interface to the physical transceiver. The
// transceiver itself (a LoRa modem) is an out-of-scope collaborator:
// this package only describes the contract mesh.Transport needs and
// ships an in-memory Simulated implementation for tests and non-radio
// development.
package radio

import "github.com/stustanet/meshwatch/common/protocol"

// Radio is the contract a transceiver driver must satisfy. Every method
// may block; callers (mesh.Transport) serialize all access to a single
// Radio behind one mutex, matching the single shared SPI/register
// interface a real transceiver exposes.
type Radio interface {
	// Init configures the transceiver's carrier, power and modulation
	// parameters. Called once at startup.
	Init(cfg protocol.RFConfig) error

	// Send transmits data as a single on-air packet. Returns an error if
	// the packet is larger than the transceiver's maximum or the
	// transceiver is busy.
	Send(data []byte) error

	// Recv returns the next received packet, or a zero-length slice if
	// none is currently available. It does not block waiting for a
	// packet; the caller is expected to poll it periodically.
	Recv() ([]byte, error)

	// IsBusy reports whether the transceiver is currently transmitting
	// or receiving and should not be given new work.
	IsBusy() bool

	// LastPacketRSSISNR reports the signal strength and signal-to-noise
	// ratio of the most recently received packet, for diagnostics.
	LastPacketRSSISNR() (rssi int, snr int)

	// GetRandomU32 draws one 32-bit sample of radio-derived entropy
	// (wide-band RSSI sampling on real hardware). Implementations are
	// not required to filter degenerate values themselves; callers
	// needing uniform, non-degenerate randomness should use
	// mesh.Transport.RandomU64.
	GetRandomU32() (uint32, error)
}
