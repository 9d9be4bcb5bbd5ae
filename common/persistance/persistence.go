// Package persistance defines the read/write contract to the one piece
// of durable state every node needs across a power cycle: its identity,
// pre-shared keys, and boot-time configuration. The real collaborator
// this models is a dedicated flash sector read by the bootloader before
// the mesh ever starts (spec.md §6.3); this package also ships a
// file-backed implementation so the daemons and tests don't need real
// flash hardware.
package persistance

import (
	"github.com/stustanet/meshwatch/common/protocol"
)

// MiscConfig is the sensor's fourth persisted sub-section: the
// retransmission and timeout tuning the original firmware hardcoded as
// constants, made per-node configurable here.
type MiscConfig struct {
	NetworkTimeoutSeconds    uint32
	MaxStatusRetransmissions uint16
	RtDelayRandom            uint16
	RtDelayLinDiv            uint16
}

// DefaultMiscConfig matches the firmware's compiled-in defaults
// (network_timeout = 1800s, max_status_retransmissions = 100).
var DefaultMiscConfig = MiscConfig{
	NetworkTimeoutSeconds:    1800,
	MaxStatusRetransmissions: 100,
	RtDelayRandom:            100,
	RtDelayLinDiv:            10,
}

// SensorConfig is the complete contents of a sensor node's persisted
// flash sector: identity, both pre-shared keys, the LED color table,
// the immutable RF parameters, and MiscConfig. A magic word and a
// per-section validity bitmap (both handled internally by the backing
// store) gate whether this can be trusted; ErrPersistedConfigMissing
// propagates up from Load when it can't.
type SensorConfig struct {
	NodeID     protocol.NodeId
	KeyStatus  [16]byte
	KeyConfig  [16]byte
	ColorTable [16][3]byte
	RF         protocol.RFConfig
	Misc       MiscConfig
}

// SensorPersister is the sensor node's view of its persisted config.
type SensorPersister interface {
	// Load reads the persisted SensorConfig. Returns
	// util.ErrPersistedConfigMissing if the magic word is absent, the
	// section-validity bitmap marks any sub-section invalid, or the
	// stamped config format major version is incompatible.
	Load() (SensorConfig, error)
	// Save writes cfg, replacing whatever was previously persisted.
	Save(cfg SensorConfig) error
}

// MasterKeyPair is one node's pre-shared key pair as the master knows
// it, indexed by NodeId in the master's persisted key table.
type MasterKeyPair struct {
	KeyStatus [16]byte
	KeyConfig [16]byte
}

// MasterPersister is the master's view of its persisted per-node key
// table (spec.md §6.3: "one (key_status, key_config) pair per node id").
type MasterPersister interface {
	// LoadKeys returns the key pair for id and true, or false if no pair
	// has ever been saved for that id.
	LoadKeys(id protocol.NodeId) (MasterKeyPair, bool, error)
	// SaveKeys persists the key pair for id, overwriting any prior entry.
	SaveKeys(id protocol.NodeId, keys MasterKeyPair) error
}
