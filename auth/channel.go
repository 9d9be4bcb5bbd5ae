// Package auth implements the authenticated, nonce-tracked channel used
// between a mesh master and each sensor node. Two independent Channels
// exist per node pair, one per direction (status updates flow
// sensor->master, configuration flows master->sensor); each side of a
// Channel plays a fixed Role for its whole lifetime.
//
// This is intentionally small, symmetric HMAC-based message
// authentication, not a general purpose secure channel: there is no
// confidentiality, no key agreement and no protection against a
// globally passive attacker recording and replaying within the same
// nonce window. It exists to stop an unauthenticated node from forging
// sensor state or control commands.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"sync"

	"github.com/stustanet/meshwatch/common/util"
)

// Role fixes which side of a Channel a node plays. The side that signs
// outgoing messages and verifies acks is the Master; the side that
// verifies incoming messages and produces acks is the Slave. For the
// status channel the sensor is master; for the config channel the
// master node is master.
type Role uint8

const (
	RoleMaster Role = 1
	RoleSlave  Role = 2
)

// KeyLen is the pre-shared key size in bytes.
const KeyLen = 16

// TagLen is the truncated HMAC tag size in bytes.
const TagLen = 8

// FooterLen is the wire size of an AuthFooter (8-byte nonce + 8-byte tag).
const FooterLen = 8 + TagLen

// Phase describes where a Channel is in its handshake lifecycle.
type Phase uint8

const (
	PhaseFresh Phase = iota
	PhaseHandshakePending
	PhaseEstablished
)

// AuthFooter is the trailer appended to every signed message: the nonce
// used to compute the tag, followed by the tag itself.
type AuthFooter struct {
	Nonce uint64
	Tag   [TagLen]byte
}

// Marshal appends the footer's wire form to buf and returns the result.
func (f AuthFooter) Marshal(buf []byte) []byte {
	var nb [8]byte
	binary.LittleEndian.PutUint64(nb[:], f.Nonce)
	buf = append(buf, nb[:]...)
	buf = append(buf, f.Tag[:]...)
	return buf
}

func parseFooter(buf []byte) AuthFooter {
	var f AuthFooter
	f.Nonce = binary.LittleEndian.Uint64(buf[:8])
	copy(f.Tag[:], buf[8:16])
	return f
}

// Channel is one direction of the authenticated link between a master
// and a sensor node. A node holds two Channels per peer: one where it
// is Master, one where it is Slave.
type Channel struct {
	mu    sync.Mutex
	key   [KeyLen]byte
	role  Role
	nonce uint64
	phase Phase
}

// NewMasterChannel creates a Channel in the Master role. challenge
// seeds the handshake nonce and should come from the radio's random
// number source, not a fixed value.
func NewMasterChannel(key [KeyLen]byte, challenge uint64) *Channel {
	return &Channel{key: key, nonce: challenge, role: RoleMaster, phase: PhaseFresh}
}

// NewSlaveChannel creates a Channel in the Slave role, seeded with the
// initial nonce it will sign its handshake reply with (both daemons
// draw it from the radio's random number source).
func NewSlaveChannel(key [KeyLen]byte, nonce uint64) *Channel {
	return &Channel{key: key, nonce: nonce, role: RoleSlave, phase: PhaseFresh}
}

// Phase reports the current handshake phase.
func (c *Channel) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Nonce reports the channel's current nonce counter, for persistence.
func (c *Channel) Nonce() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonce
}

func generateTag(key []byte, nonce uint64, datas ...[]byte) [TagLen]byte {
	mac := hmac.New(sha256.New, key)
	for _, d := range datas {
		if len(d) != 0 {
			mac.Write(d)
		}
	}
	var nb [8]byte
	binary.LittleEndian.PutUint64(nb[:], nonce)
	mac.Write(nb[:])
	sum := mac.Sum(nil)
	var tag [TagLen]byte
	copy(tag[:], sum[:TagLen])
	return tag
}

func signMessage(key []byte, nonce uint64, payload []byte, addData []byte) []byte {
	tag := generateTag(key, nonce, payload, addData)
	out := make([]byte, 0, len(payload)+FooterLen)
	out = append(out, payload...)
	return AuthFooter{Nonce: nonce, Tag: tag}.Marshal(out)
}

// checkMessageTag verifies full's footer against expectedNonce and the
// computed tag, returning the payload (full without the footer) on
// success. The nonce is checked for equality before the tag is even
// computed, matching the wire protocol's intent that a stale retransmit
// should be distinguishable by nonce alone.
func checkMessageTag(key []byte, expectedNonce uint64, full []byte, addData []byte) ([]byte, error) {
	if len(full) < FooterLen {
		return nil, util.ErrWrongSize
	}
	dataLen := len(full) - FooterLen
	footer := parseFooter(full[dataLen:])
	if footer.Nonce != expectedNonce {
		return nil, util.ErrWrongNonce
	}
	tag := generateTag(key, footer.Nonce, full[:dataLen], addData)
	if subtle.ConstantTimeCompare(tag[:], footer.Tag[:]) != 1 {
		return nil, util.ErrWrongMac
	}
	return full[:dataLen], nil
}

// MakeHandshake produces the 8-byte challenge a Master sends to begin a
// handshake. Only valid in the Master role.
func (c *Channel) MakeHandshake() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.role != RoleMaster {
		return nil, util.ErrWrongState
	}
	c.phase = PhaseHandshakePending
	var nb [8]byte
	binary.LittleEndian.PutUint64(nb[:], c.nonce)
	return nb[:], nil
}

// ProcessHandshakeReply verifies a Slave's signed handshake reply.
// challenge is the 8 bytes this Channel sent from MakeHandshake; reply
// is the echoed challenge followed by the Slave's AuthFooter. addData
// binds the reply to a specific link (src, dst), preventing a reply
// captured on one link from being replayed on another.
func (c *Channel) ProcessHandshakeReply(challenge, reply, addData []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.role != RoleMaster || c.phase != PhaseHandshakePending {
		return util.ErrWrongState
	}
	if len(reply) != len(challenge)+FooterLen {
		return util.ErrWrongSize
	}
	echoed := reply[:len(challenge)]
	for i := range challenge {
		if echoed[i] != challenge[i] {
			return util.ErrWrongNonce
		}
	}
	footer := parseFooter(reply[len(challenge):])
	tag := generateTag(c.key[:], footer.Nonce, echoed, addData)
	if subtle.ConstantTimeCompare(tag[:], footer.Tag[:]) != 1 {
		return util.ErrWrongMac
	}
	c.nonce = footer.Nonce
	c.phase = PhaseEstablished
	c.nonce += 2
	return nil
}

// Sign authenticates payload with the current nonce. Only valid in the
// Master role once the handshake is Established. The nonce is not
// advanced here; it only advances when the corresponding ack is
// accepted by CheckAck, so a dropped reply can be safely retransmitted
// with the same nonce.
func (c *Channel) Sign(payload, addData []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.role != RoleMaster || c.phase != PhaseEstablished {
		return nil, util.ErrWrongState
	}
	return signMessage(c.key[:], c.nonce, payload, addData), nil
}

// CheckAck verifies an ack (a bare AuthFooter, no payload) against
// nonce+1 and advances the nonce by 2 on success. Only valid in the
// Master role.
func (c *Channel) CheckAck(full, addData []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.role != RoleMaster || c.phase != PhaseEstablished {
		return util.ErrWrongState
	}
	if len(full) != FooterLen {
		return util.ErrWrongSize
	}
	expected := c.nonce + 1
	if _, err := checkMessageTag(c.key[:], expected, full, addData); err != nil {
		return err
	}
	c.nonce += 2
	return nil
}

// HandleHandshake builds a Slave's signed reply to a Master's
// challenge, echoing the challenge and signing with the Slave's own
// nonce. The Slave's handshake completes only once its reply is
// acknowledged by the first successfully Verified message.
func (c *Channel) HandleHandshake(challenge, addData []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.role != RoleSlave {
		return nil, util.ErrWrongState
	}
	if len(challenge) != 8 {
		return nil, util.ErrWrongSize
	}
	c.phase = PhaseHandshakePending
	return signMessage(c.key[:], c.nonce, challenge, addData), nil
}

// Verify checks a signed message against the expected next nonce
// (current + 2). If the footer's nonce instead matches the last nonce
// this Channel already accepted, the message is a retransmit of an
// already-processed update; old is true and the caller should re-send
// the previous ack (via MakeAck(addData, true)) without reprocessing
// the payload. Any other nonce mismatch, a bad tag, or a malformed
// message is a hard error.
func (c *Channel) Verify(full, addData []byte) (payload []byte, old bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.role != RoleSlave {
		return nil, false, util.ErrWrongState
	}
	if c.phase != PhaseHandshakePending && c.phase != PhaseEstablished {
		return nil, false, util.ErrWrongState
	}

	expected := c.nonce + 2
	payload, err = checkMessageTag(c.key[:], expected, full, addData)
	if err == util.ErrWrongNonce {
		if len(full) >= FooterLen {
			footer := parseFooter(full[len(full)-FooterLen:])
			if footer.Nonce == c.nonce {
				return nil, true, util.ErrOldNonce
			}
		}
		return nil, false, err
	}
	if err != nil {
		return nil, false, err
	}
	c.phase = PhaseEstablished
	c.nonce += 2
	return payload, false, nil
}

// MakeAck builds the ack for the most recently Verified message. old is
// accepted for the caller's bookkeeping but changes nothing here: a
// re-ACK for a retransmitted (already-processed) message reuses the
// exact same nonce as the original ACK, matching
// auth_slave_make_ack's unconditional ctx->nonce+1 in the original
// firmware, so the master's CheckAck sees an identical, acceptable
// reply either way.
func (c *Channel) MakeAck(addData []byte, old bool) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.role != RoleSlave || c.phase != PhaseEstablished {
		return nil, util.ErrWrongState
	}
	return signMessage(c.key[:], c.nonce+1, nil, addData), nil
}
