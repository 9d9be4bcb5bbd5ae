package protocol

// MessageType is the first payload byte of every mesh message, selecting
// how the remaining bytes are interpreted.
type MessageType uint8

const (
	MsgHS1                            MessageType = 1
	MsgHS2                            MessageType = 2
	MsgAck                            MessageType = 3
	MsgRouteReset                     MessageType = 4
	MsgRouteAppend                    MessageType = 5
	MsgConfigureSensor                MessageType = 6
	MsgStartSensor                    MessageType = 7
	MsgBeginRawFrames                 MessageType = 8
	MsgGetRawStatus                   MessageType = 9
	MsgNop                            MessageType = 10
	MsgLed                            MessageType = 11
	MsgRebuildStatusChannel           MessageType = 12
	MsgConfigureStatusChangeIndicator MessageType = 13
	MsgConfigureFreqChannel           MessageType = 14 // out of scope collaborator, acknowledged but never acted on
	MsgStatusUpdate                   MessageType = 64
	MsgEchoRequest                    MessageType = 128
	MsgEchoReply                      MessageType = 129
	MsgRawFrameData                   MessageType = 130
	MsgRawStatus                      MessageType = 131
)

// Authenticated reports whether messages of this type are carried inside
// an auth-signed envelope rather than sent in the clear. Per the wire
// format, anything below 128 except the handshake/ack trio and the
// unauthenticated debug requests goes through a signed channel; HS1/HS2/
// ACK carry their own embedded auth fields and GET_RAW_STATUS/ECHO/RAW_*
// are explicitly unauthenticated.
func (t MessageType) Authenticated() bool {
	switch t {
	case MsgHS1, MsgHS2, MsgAck, MsgGetRawStatus, MsgEchoRequest, MsgEchoReply, MsgRawFrameData, MsgRawStatus:
		return false
	default:
		return true
	}
}

// AckResult is the single-byte result code carried in an Ack payload.
type AckResult uint8

const (
	AckOK         AckResult = 0
	AckWrongSize  AckResult = 1
	AckBadIndex   AckResult = 2
	AckBadParam   AckResult = 3
	AckNotSup     AckResult = 4
	AckBadState   AckResult = 5
	// AckRetransmitBit is OR'd into the result code when the ACK is a
	// re-ACK for a message the peer has already processed (idempotent
	// replay of the most recent successful result).
	AckRetransmitBit AckResult = 0x80
)

// IsRetransmit reports whether this ACK is a re-ACK rather than an
// original response.
func (r AckResult) IsRetransmit() bool {
	return r&AckRetransmitBit != 0
}

// Code strips the retransmit bit, returning the underlying result code.
func (r AckResult) Code() AckResult {
	return r &^ AckRetransmitBit
}

// HS2 status bits report which parts of a sensor's init completed.
const (
	HS2StatusRoutes uint8 = 1 << 0
	HS2StatusSensor uint8 = 1 << 1
)

// Sensor node status bits (STATUS_* in the original firmware), exposed
// on the host line protocol's ###STATUS event and used internally by
// sensor.Controller to gate behavior.
const (
	StatusInitCplt        uint16 = 0x001
	StatusInitRoutes      uint16 = 0x002
	StatusInitAuthSta     uint16 = 0x004
	StatusInitAuthCfg     uint16 = 0x008
	StatusInitAuthStaPend uint16 = 0x010
	StatusSensorsActive   uint16 = 0x020
	StatusSerialDebug     uint16 = 0x040
	StatusPrintFrames     uint16 = 0x080
	StatusLedSet          uint16 = 0x100
	StatusForceUpdate     uint16 = 0x200
	StatusNoLedUpdate     uint16 = 0x400
	StatusSensorTest      uint16 = 0x800
)
