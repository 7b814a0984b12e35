package chunk

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		raw         []byte
		wantIndex   uint16
		wantPayload []byte
		wantKind    Kind
	}{
		{"start_with_payload", []byte{0x00, 0x00, 'A', 'B'}, 0, []byte("AB"), KindStart},
		{"continuation", []byte{0x01, 0x00, 'C'}, 1, []byte("C"), KindContinuation},
		{"little_endian", []byte{0x34, 0x12, 0xAA}, 0x1234, []byte{0xAA}, KindContinuation},
		{"high_byte_only", []byte{0x00, 0x01}, 0x0100, []byte{}, KindContinuation},
		{"terminator", []byte{0xFF, 0xFF}, TerminatorIndex, []byte{}, KindTerminator},
		{"terminator_with_trailing_bytes", []byte{0xFF, 0xFF, 0x01}, TerminatorIndex, []byte{0x01}, KindTerminator},
		{"max_ordinary_index", []byte{0xFE, 0xFF}, MaxFrameIndex, []byte{}, KindContinuation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Parse(tt.raw)
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if c.Index != tt.wantIndex {
				t.Errorf("Index = 0x%04X, want 0x%04X", c.Index, tt.wantIndex)
			}
			if !bytes.Equal(c.Payload, tt.wantPayload) {
				t.Errorf("Payload = %x, want %x", c.Payload, tt.wantPayload)
			}
			if c.Kind() != tt.wantKind {
				t.Errorf("Kind = %v, want %v", c.Kind(), tt.wantKind)
			}
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	for _, raw := range [][]byte{nil, {}, {0x00}, {0xFF}} {
		if _, err := Parse(raw); !errors.Is(err, ErrMalformed) {
			t.Errorf("Parse(%x) err = %v, want ErrMalformed", raw, err)
		}
	}
}

func TestMarshal(t *testing.T) {
	got := Marshal(Chunk{Index: 0x0102, Payload: []byte("xy")})
	want := []byte{0x02, 0x01, 'x', 'y'}
	if !bytes.Equal(got, want) {
		t.Errorf("Marshal = %x, want %x", got, want)
	}
	if !bytes.Equal(Terminator(), []byte{0xFF, 0xFF}) {
		t.Errorf("Terminator = %x, want ffff", Terminator())
	}
}

func TestSplit(t *testing.T) {
	data := []byte("ABCDEFG")
	frames, err := Split(data, 3)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	// ABC, DEF, G, terminator
	if len(frames) != 4 {
		t.Fatalf("frames = %d, want 4", len(frames))
	}
	var joined []byte
	for i, raw := range frames[:3] {
		c, err := Parse(raw)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if int(c.Index) != i {
			t.Errorf("frame %d index = %d", i, c.Index)
		}
		joined = append(joined, c.Payload...)
	}
	if !bytes.Equal(joined, data) {
		t.Errorf("joined = %q, want %q", joined, data)
	}
	if last, _ := Parse(frames[3]); last.Kind() != KindTerminator {
		t.Errorf("last frame kind = %v, want terminator", last.Kind())
	}
}

func TestSplit_EmptyImage(t *testing.T) {
	frames, err := Split(nil, 10)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2 (empty start + terminator)", len(frames))
	}
	if !bytes.Equal(frames[0], []byte{0x00, 0x00}) {
		t.Errorf("frame 0 = %x, want 0000", frames[0])
	}
}

func TestSplit_Errors(t *testing.T) {
	if _, err := Split([]byte("x"), 0); err == nil {
		t.Error("expected error for zero payload size")
	}
	big := make([]byte, int(MaxFrameIndex)+2)
	if _, err := Split(big, 1); !errors.Is(err, ErrTooManyFrames) {
		t.Errorf("err = %v, want ErrTooManyFrames", err)
	}
}

func TestCaptureCommand(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		want     byte
	}{
		{"zero_single_shot", 0, CommandSingleShot},
		{"negative_single_shot", -time.Second, CommandSingleShot},
		{"sub_second_clamped", 300 * time.Millisecond, 1},
		{"five_seconds", 5 * time.Second, 5},
		{"truncates", 5900 * time.Millisecond, 5},
		{"clamped_high", time.Hour, MaxCaptureInterval},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CaptureCommand(tt.interval); got != tt.want {
				t.Errorf("CaptureCommand(%v) = 0x%02X, want 0x%02X", tt.interval, got, tt.want)
			}
		})
	}
}

func TestDescribeCommand(t *testing.T) {
	if got := DescribeCommand(CommandStop); got != "stop" {
		t.Errorf("DescribeCommand(stop) = %q", got)
	}
	if got := DescribeCommand(5); got != "every 5s" {
		t.Errorf("DescribeCommand(5) = %q", got)
	}
}
