package chunk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMalformed is returned by Parse for a chunk shorter than the header.
	ErrMalformed = errors.New("chunk: shorter than header")
	// ErrTooManyFrames is returned by Split when an image needs more frame
	// indices than the header can carry.
	ErrTooManyFrames = errors.New("chunk: image needs too many frames")
)

// Kind classifies a chunk by its frame index.
type Kind int

const (
	KindContinuation Kind = iota
	KindStart
	KindTerminator
)

func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindTerminator:
		return "terminator"
	default:
		return "continuation"
	}
}

// Chunk is one notification from the camera.
type Chunk struct {
	Index   uint16
	Payload []byte
}

// Kind reports whether c starts, continues or terminates an image.
func (c Chunk) Kind() Kind {
	switch c.Index {
	case TerminatorIndex:
		return KindTerminator
	case StartIndex:
		return KindStart
	default:
		return KindContinuation
	}
}

// --------------------------------------------------------------------------
// Decode / encode
// --------------------------------------------------------------------------

// Parse decodes a raw notification. The payload aliases raw.
func Parse(raw []byte) (Chunk, error) {
	if len(raw) < HeaderSize {
		return Chunk{}, ErrMalformed
	}
	return Chunk{
		Index:   binary.LittleEndian.Uint16(raw[0:2]),
		Payload: raw[HeaderSize:],
	}, nil
}

// Marshal encodes c in wire format.
func Marshal(c Chunk) []byte {
	buf := make([]byte, HeaderSize+len(c.Payload))
	binary.LittleEndian.PutUint16(buf[0:2], c.Index)
	copy(buf[HeaderSize:], c.Payload)
	return buf
}

// Terminator returns the bare end-of-image chunk.
func Terminator() []byte {
	return Marshal(Chunk{Index: TerminatorIndex})
}

// Split cuts data into the sequence a camera sends for one image:
// frames 0..n-1 of at most payloadSize bytes each, then a terminator.
// An empty image still yields frame 0 (empty) so the receiver sees a Start.
func Split(data []byte, payloadSize int) ([][]byte, error) {
	if payloadSize <= 0 {
		return nil, fmt.Errorf("chunk: invalid payload size %d", payloadSize)
	}
	n := (len(data) + payloadSize - 1) / payloadSize
	if n == 0 {
		n = 1
	}
	if n > int(MaxFrameIndex)+1 {
		return nil, ErrTooManyFrames
	}

	out := make([][]byte, 0, n+1)
	for i := range n {
		start := i * payloadSize
		end := min(start+payloadSize, len(data))
		out = append(out, Marshal(Chunk{Index: uint16(i), Payload: data[start:end]}))
	}
	out = append(out, Terminator())
	return out, nil
}

// --------------------------------------------------------------------------
// Control channel
// --------------------------------------------------------------------------

// CaptureCommand encodes a periodic capture request. A zero or negative
// interval requests a single shot; other values are clamped to whole seconds
// in [MinCaptureInterval, MaxCaptureInterval].
func CaptureCommand(interval time.Duration) byte {
	if interval <= 0 {
		return CommandSingleShot
	}
	secs := int(interval / time.Second)
	secs = max(secs, MinCaptureInterval)
	secs = min(secs, MaxCaptureInterval)
	return byte(secs)
}

// DescribeCommand returns a log-friendly name for a command byte.
func DescribeCommand(cmd byte) string {
	switch cmd {
	case CommandStop:
		return "stop"
	case CommandSingleShot:
		return "single-shot"
	default:
		return fmt.Sprintf("every %ds", cmd)
	}
}
