package auth

import (
	"bytes"
	"testing"

	"github.com/stustanet/meshwatch/common/util"
)

func testKey() [KeyLen]byte {
	var k [KeyLen]byte
	for i := range k {
		k[i] = byte(i + 1)
	}
	return k
}

func establish(t *testing.T) (master, slave *Channel) {
	t.Helper()
	key := testKey()
	master = NewMasterChannel(key, 1000)
	slave = NewSlaveChannel(key, 0)

	addData := []byte{1, 2}

	challenge, err := master.MakeHandshake()
	if err != nil {
		t.Fatalf("MakeHandshake: %v", err)
	}
	reply, err := slave.HandleHandshake(challenge, addData)
	if err != nil {
		t.Fatalf("HandleHandshake: %v", err)
	}
	if err := master.ProcessHandshakeReply(challenge, reply, addData); err != nil {
		t.Fatalf("ProcessHandshakeReply: %v", err)
	}
	return master, slave
}

func TestHandshakeEstablishesBothSides(t *testing.T) {
	master, slave := establish(t)
	if master.Phase() != PhaseEstablished {
		t.Fatalf("master phase = %v", master.Phase())
	}
	if slave.Phase() != PhaseHandshakePending {
		t.Fatalf("slave phase before first Verify = %v", slave.Phase())
	}

	// The master's nonce advances to slave_nonce+2 while the slave keeps
	// its own original local nonce; they are never equal. The real
	// post-handshake invariant is that a signed message now round-trips,
	// and the slave becomes Established on that first successful Verify.
	signed, err := master.Sign([]byte("hello"), nil)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	payload, old, err := slave.Verify(signed, nil)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if old {
		t.Fatal("unexpected old-nonce on first delivery")
	}
	if !bytes.Equal(payload, []byte("hello")) {
		t.Fatalf("payload = %q", payload)
	}
	if slave.Phase() != PhaseEstablished {
		t.Fatalf("slave phase = %v", slave.Phase())
	}
}

func TestSignVerifyAckRoundTrip(t *testing.T) {
	master, slave := establish(t)
	addData := []byte{5, 6}

	signed, err := master.Sign([]byte("payload"), addData)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	payload, old, err := slave.Verify(signed, addData)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if old {
		t.Fatal("unexpected old-nonce on first delivery")
	}
	if !bytes.Equal(payload, []byte("payload")) {
		t.Fatalf("payload = %q", payload)
	}

	ack, err := slave.MakeAck(addData, false)
	if err != nil {
		t.Fatalf("MakeAck: %v", err)
	}
	if err := master.CheckAck(ack, addData); err != nil {
		t.Fatalf("CheckAck: %v", err)
	}
}

func TestVerifyRetransmitYieldsOldNonce(t *testing.T) {
	master, slave := establish(t)
	addData := []byte{7}

	signed, err := master.Sign([]byte("first"), addData)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, _, err := slave.Verify(signed, addData); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	firstAck, err := slave.MakeAck(addData, false)
	if err != nil {
		t.Fatalf("MakeAck: %v", err)
	}
	if err := master.CheckAck(firstAck, addData); err != nil {
		t.Fatalf("CheckAck: %v", err)
	}

	// The master never saw the ack and retransmits the same signed message.
	_, old, err := slave.Verify(signed, addData)
	if err != util.ErrOldNonce {
		t.Fatalf("expected ErrOldNonce, got %v", err)
	}
	if !old {
		t.Fatal("expected old=true")
	}

	reAck, err := slave.MakeAck(addData, true)
	if err != nil {
		t.Fatalf("MakeAck(old): %v", err)
	}
	if !bytes.Equal(reAck, firstAck) {
		t.Fatalf("re-ack does not match original ack")
	}
}

func TestVerifyWrongMacRejected(t *testing.T) {
	_, slave := establish(t)
	addData := []byte{1}
	other := testKey()
	other[0] ^= 0xFF
	forged := signMessage(other[:], slave.Nonce()+2, []byte("x"), addData)
	if _, _, err := slave.Verify(forged, addData); err != util.ErrWrongMac {
		t.Fatalf("expected ErrWrongMac, got %v", err)
	}
}

func TestVerifyCrossLinkAddDataRejected(t *testing.T) {
	master, slave := establish(t)
	signed, err := master.Sign([]byte("x"), []byte{1, 2})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, _, err := slave.Verify(signed, []byte{3, 4}); err != util.ErrWrongMac {
		t.Fatalf("expected ErrWrongMac for mismatched additional data, got %v", err)
	}
}

func TestSignBeforeHandshakeWrongState(t *testing.T) {
	key := testKey()
	master := NewMasterChannel(key, 1)
	if _, err := master.Sign([]byte("x"), nil); err != util.ErrWrongState {
		t.Fatalf("expected ErrWrongState, got %v", err)
	}
}
