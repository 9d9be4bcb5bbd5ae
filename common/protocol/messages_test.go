package protocol

import (
	"reflect"
	"testing"
)

func TestLayer3HeaderRoundTrip(t *testing.T) {
	h := Layer3Header{NextHop: 3, Dst: 9, Src: 1}
	buf := make([]byte, HeaderSize)
	if err := h.Marshal(buf); err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := UnmarshalLayer3Header(buf)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != h {
		t.Fatalf("got %+v want %+v", got, h)
	}
}

func TestUnmarshalLayer3HeaderShort(t *testing.T) {
	if _, err := UnmarshalLayer3Header([]byte{1, 2}); err == nil {
		t.Fatal("expected error on short buffer")
	}
}

func TestHS1RoundTrip(t *testing.T) {
	m := HS1{ReplyRoute: 42}
	buf := make([]byte, 2)
	n, err := m.Marshal(buf)
	if err != nil || n != 2 {
		t.Fatalf("marshal: n=%d err=%v", n, err)
	}
	got, err := ParseHS1(buf)
	if err != nil || got != m {
		t.Fatalf("got %+v err %v", got, err)
	}
}

func TestAckRetransmitBit(t *testing.T) {
	r := AckOK | AckRetransmitBit
	if !r.IsRetransmit() {
		t.Fatal("expected retransmit bit set")
	}
	if r.Code() != AckOK {
		t.Fatalf("got code %v want AckOK", r.Code())
	}
}

func TestRouteUpdateRoundTrip(t *testing.T) {
	u := RouteUpdate{
		Append: true,
		Entries: []RouteEntry{
			{Dst: 1, Next: 2},
			{Dst: 3, Next: InvalidNode},
		},
	}
	buf := make([]byte, 16)
	n, err := u.Marshal(buf)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := ParseRouteUpdate(buf[:n])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !reflect.DeepEqual(got, u) {
		t.Fatalf("got %+v want %+v", got, u)
	}
}

func TestRouteUpdateEmptyRejected(t *testing.T) {
	u := RouteUpdate{}
	buf := make([]byte, 8)
	if _, err := u.Marshal(buf); err == nil {
		t.Fatal("expected error for empty route table")
	}
}

func TestStatusUpdateRoundTrip(t *testing.T) {
	m := StatusUpdate{Status: 0xBEEF}
	buf := make([]byte, 3)
	if _, err := m.Marshal(buf); err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := ParseStatusUpdate(buf)
	if err != nil || got.Status != m.Status {
		t.Fatalf("got %+v err %v", got, err)
	}
}

func TestConfigureSensorRoundTrip(t *testing.T) {
	params := StateEstimationParams{
		MidValueAdjustmentSpeed: 4,
		LowpassWeight:           200,
		NumSamples:              50,
		WindowSizes:             [StateCount]uint16{128, 64, 256, 256},
		RejectThreshold:         1000,
		RejectConsecCount:       3,
	}
	params.TransitionMatrix[0][1] = 500
	params.TransitionMatrix[2][0] = -400

	m := ConfigureSensor{ChannelID: 7, Params: params}
	buf := make([]byte, 64)
	n, err := m.Marshal(buf)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := ParseConfigureSensor(buf[:n])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !reflect.DeepEqual(got, m) {
		t.Fatalf("got %+v want %+v", got, m)
	}
}

func TestRawStatusRoundTrip(t *testing.T) {
	m := RawStatus{
		NodeStatus:            0x1,
		SensorLoopDelay:       1000,
		RetransmissionCounter: 3,
		Uptime:                987654,
		ChannelStatus:         0b11,
		ChannelEnabled:        0b11,
		RtBaseDelay:           5,
		Channels: []RawStatusChannel{
			{IfCurrent: 100, RfCurrent: 50, CurrentStatus: 1},
			{IfCurrent: 0, RfCurrent: 0, CurrentStatus: 0},
		},
	}
	buf := make([]byte, 64)
	n, err := m.Marshal(buf)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := ParseRawStatus(buf[:n])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !reflect.DeepEqual(got, m) {
		t.Fatalf("got %+v want %+v", got, m)
	}
}

func TestMessageTypeAuthenticated(t *testing.T) {
	cases := map[MessageType]bool{
		MsgHS1:           false,
		MsgHS2:           false,
		MsgAck:           false,
		MsgStatusUpdate:  true,
		MsgStartSensor:   true,
		MsgGetRawStatus:  false,
		MsgEchoRequest:   false,
		MsgRawFrameData:  false,
		MsgRawStatus:     false,
		MsgNop:           true,
	}
	for typ, want := range cases {
		if got := typ.Authenticated(); got != want {
			t.Errorf("MessageType(%d).Authenticated() = %v want %v", typ, got, want)
		}
	}
}
