// Package master implements the host-facing MasterController (spec.md
// §4.5): a table of per-node SensorConnections, the line-based host
// command protocol, and the per-connection retransmission policy that
// drives every signed config-channel message.
package master

// NSlots bounds how many SensorConnections the connection table holds
// at once; connecting a 33rd node is rejected with
// util.ErrConnectionLimit and no existing connection is evicted.
const NSlots = 32

// Retransmission policy constants, mirroring the original firmware's
// sensor_connection_t: a per-node linear backoff (so many simultaneously
// timed-out connections don't all retry in lockstep) capped at a fixed
// retry count before giving up and reporting a timeout to the host.
const (
	retransmissionBaseDelaySeconds = 5
	retransmissionLinBackoffDiv    = 3
	maxRetransmissions             = 100
)
