package proto

import (
	"errors"
	"testing"

	"hollowdelve/netcode/internal/sim"
)

func TestHelloRoundTrip(t *testing.T) {
	for _, ack := range []bool{false, true} {
		data := EncodeHello(Hello{Peer: 1, FrameSize: sim.FrameSize}, ack)
		msg, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode(ack=%v): %v", ack, err)
		}
		wantType := TypeHello
		if ack {
			wantType = TypeHelloAck
		}
		if msg.Type != wantType {
			t.Fatalf("type = %d, want %d", msg.Type, wantType)
		}
		if msg.Hello.Peer != 1 || msg.Hello.FrameSize != sim.FrameSize {
			t.Fatalf("hello = %+v", msg.Hello)
		}
	}
}

func TestDecodeVersionMismatch(t *testing.T) {
	data := EncodeHello(Hello{Peer: 0, FrameSize: sim.FrameSize}, false)
	data[0] = Version + 1
	if _, err := Decode(data); !errors.Is(err, ErrProtocolVersionMismatch) {
		t.Fatalf("err = %v, want ErrProtocolVersionMismatch", err)
	}
}

func TestInputRoundTrip(t *testing.T) {
	in := Input{Peer: 1, Ack: 41, StartTick: 17, Frames: make([]sim.InputFrame, 3)}
	for i := range in.Frames {
		in.Frames[i][0] = byte(i + 1)
		in.Frames[i][2] = 0xAB
	}
	data, err := EncodeInput(in)
	if err != nil {
		t.Fatalf("EncodeInput: %v", err)
	}
	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got := msg.Input
	if got.Peer != in.Peer || got.Ack != in.Ack || got.StartTick != in.StartTick {
		t.Fatalf("header = %+v, want %+v", got, in)
	}
	if len(got.Frames) != len(in.Frames) {
		t.Fatalf("frames = %d, want %d", len(got.Frames), len(in.Frames))
	}
	for i := range in.Frames {
		if got.Frames[i] != in.Frames[i] {
			t.Fatalf("frame %d = %v, want %v", i, got.Frames[i], in.Frames[i])
		}
	}
}

func TestEncodeInputRejectsBadBatch(t *testing.T) {
	if _, err := EncodeInput(Input{}); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("empty batch err = %v, want ErrMalformedFrame", err)
	}
	if _, err := EncodeInput(Input{Frames: make([]sim.InputFrame, MaxInputBatch+1)}); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("oversized batch err = %v, want ErrMalformedFrame", err)
	}
}

func TestDecodeTruncatedInput(t *testing.T) {
	in := Input{Peer: 0, StartTick: 1, Frames: make([]sim.InputFrame, 2)}
	data, err := EncodeInput(in)
	if err != nil {
		t.Fatalf("EncodeInput: %v", err)
	}
	for _, n := range []int{1, 5, len(data) - 1} {
		if _, err := Decode(data[:n]); !errors.Is(err, ErrMalformedFrame) {
			t.Fatalf("truncated to %d: err = %v, want ErrMalformedFrame", n, err)
		}
	}
}

func TestDecodeUnknownType(t *testing.T) {
	if _, err := Decode([]byte{Version, 0x7F}); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("err = %v, want ErrMalformedFrame", err)
	}
}

func TestInputAckRoundTrip(t *testing.T) {
	data := EncodeInputAck(InputAck{Peer: 1, Ack: 900})
	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Ack.Peer != 1 || msg.Ack.Ack != 900 {
		t.Fatalf("ack = %+v", msg.Ack)
	}
}

func TestChecksumRoundTrip(t *testing.T) {
	data := EncodeChecksum(Checksum{Peer: 1, Tick: 300, Sum: 0xBEEF})
	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Checksum.Peer != 1 || msg.Checksum.Tick != 300 || msg.Checksum.Sum != 0xBEEF {
		t.Fatalf("checksum = %+v", msg.Checksum)
	}
}

func TestSnapshotEnvelopeRoundTrip(t *testing.T) {
	state := []byte{9, 8, 7, 6, 5}
	data := EncodeSnapshot(1234, state)
	tick, got, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}
	if tick != 1234 || string(got) != string(state) {
		t.Fatalf("decoded tick %d state %v", tick, got)
	}
	if _, _, err := DecodeSnapshot(data[:len(data)-1]); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("truncated envelope err = %v, want ErrMalformedFrame", err)
	}
	if _, err := Decode(data); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("snapshot through Decode err = %v, want rejected", err)
	}
}

func TestFletcher16(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want uint16
	}{
		{"empty", nil, 0},
		{"abcde", []byte("abcde"), 0xC8F0},
		{"abcdef", []byte("abcdef"), 0x2057},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Fletcher16(tc.data); got != tc.want {
				t.Fatalf("Fletcher16(%q) = %#04x, want %#04x", tc.data, got, tc.want)
			}
		})
	}
	// Position sensitivity: swapped bytes must not collide.
	if Fletcher16([]byte{1, 2}) == Fletcher16([]byte{2, 1}) {
		t.Fatal("checksum ignores byte order")
	}
}
