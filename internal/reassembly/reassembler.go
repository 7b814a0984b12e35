package reassembly

import (
	"log/slog"
	"time"

	"github.com/mzyy94/glasscap/internal/chunk"
)

// Image is one completed image. Data is owned by the receiver.
type Image struct {
	Data      []byte
	Timestamp time.Time
}

// Reason classifies why a chunk was dropped or an image abandoned.
type Reason int

const (
	MalformedChunk        Reason = iota // shorter than the header
	PrematureContinuation               // non-zero index while idle
	OutOfOrderFrame                     // gap, duplicate or regression
	OversizedTransfer                   // buffer grew past the ceiling
	EmptyTerminator                     // terminator while idle or with nothing buffered
	Superseded                          // Start arrived mid-transfer
	Stalled                             // reset by an external watchdog

	numReasons
)

var reasonNames = [numReasons]string{
	MalformedChunk:        "malformed_chunk",
	PrematureContinuation: "premature_continuation",
	OutOfOrderFrame:       "out_of_order_frame",
	OversizedTransfer:     "oversized_transfer",
	EmptyTerminator:       "empty_terminator",
	Superseded:            "superseded",
	Stalled:               "stalled",
}

func (r Reason) String() string {
	if r < 0 || r >= numReasons {
		return "unknown"
	}
	return reasonNames[r]
}

// Reasons lists every Reason in declaration order.
func Reasons() []Reason {
	out := make([]Reason, numReasons)
	for i := range out {
		out[i] = Reason(i)
	}
	return out
}

// Discard describes a dropped chunk or abandoned image.
type Discard struct {
	Reason   Reason
	Index    uint16 // index of the offending chunk (0 for Stalled)
	Expected uint16 // index the reassembler was waiting for
	Dropped  int    // buffered bytes thrown away
}

// Observer receives discard events. It runs on the caller's goroutine and
// must not block.
type Observer func(Discard)

// Options configures a Reassembler. Zero values select defaults.
type Options struct {
	MaxSize  int              // default chunk.MaxImageSize
	Now      func() time.Time // default time.Now
	Observer Observer         // default logs at debug level
}

// Stats is a snapshot of reassembler counters.
type Stats struct {
	Chunks   uint64            `json:"chunks"`
	Bytes    uint64            `json:"bytes"`
	Images   uint64            `json:"images"`
	Discards map[string]uint64 `json:"discards"`
}

// Reassembler owns the in-progress image and applies chunks to it.
type Reassembler struct {
	buf       []byte
	next      uint16
	receiving bool

	maxSize  int
	now      func() time.Time
	observer Observer

	chunks   uint64
	bytes    uint64
	images   uint64
	discards [numReasons]uint64
}

// New creates an idle Reassembler.
func New(opts Options) *Reassembler {
	if opts.MaxSize <= 0 {
		opts.MaxSize = chunk.MaxImageSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Observer == nil {
		opts.Observer = logDiscard
	}
	return &Reassembler{
		maxSize:  opts.MaxSize,
		now:      opts.Now,
		observer: opts.Observer,
	}
}

func logDiscard(d Discard) {
	slog.Debug("chunk discarded",
		"reason", d.Reason,
		"index", d.Index,
		"expected", d.Expected,
		"dropped_bytes", d.Dropped,
	)
}

// ApplyRaw parses a raw notification and applies it. Chunks shorter than
// the header are counted and dropped without touching the state.
func (r *Reassembler) ApplyRaw(raw []byte) *Image {
	c, err := chunk.Parse(raw)
	if err != nil {
		r.chunks++
		r.discard(Discard{Reason: MalformedChunk, Expected: r.next})
		return nil
	}
	return r.Apply(c)
}

// Apply processes one chunk and returns the completed image, if any.
func (r *Reassembler) Apply(c chunk.Chunk) *Image {
	r.chunks++

	switch c.Kind() {
	case chunk.KindTerminator:
		return r.terminate(c)
	case chunk.KindStart:
		if r.receiving {
			r.discard(Discard{Reason: Superseded, Index: c.Index, Expected: r.next, Dropped: len(r.buf)})
		}
		r.reset()
		r.receiving = true
	default:
		if !r.receiving {
			r.discard(Discard{Reason: PrematureContinuation, Index: c.Index})
			return nil
		}
	}

	if c.Index != r.next {
		r.discard(Discard{Reason: OutOfOrderFrame, Index: c.Index, Expected: r.next, Dropped: len(r.buf)})
		r.reset()
		return nil
	}

	expected := r.next
	if len(c.Payload) > 0 {
		r.buf = append(r.buf, c.Payload...)
		r.bytes += uint64(len(c.Payload))
	}
	r.next++

	if len(r.buf) > r.maxSize {
		r.discard(Discard{Reason: OversizedTransfer, Index: c.Index, Expected: expected, Dropped: len(r.buf)})
		r.reset()
	}
	return nil
}

func (r *Reassembler) terminate(c chunk.Chunk) *Image {
	if !r.receiving || len(r.buf) == 0 {
		r.discard(Discard{Reason: EmptyTerminator, Index: c.Index, Expected: r.next})
		r.reset()
		return nil
	}

	img := &Image{Data: r.buf, Timestamp: r.now()}
	frames := r.next
	r.buf = nil // ownership moves to img
	r.reset()
	r.images++
	slog.Debug("image reassembled", "bytes", len(img.Data), "frames", frames)
	return img
}

// Reset abandons any in-progress image, recording reason. It is a no-op
// while idle.
func (r *Reassembler) Reset(reason Reason) {
	if !r.receiving {
		return
	}
	r.discard(Discard{Reason: reason, Expected: r.next, Dropped: len(r.buf)})
	r.reset()
}

// reset returns to Idle and releases the buffer.
func (r *Reassembler) reset() {
	r.buf = nil
	r.next = 0
	r.receiving = false
}

func (r *Reassembler) discard(d Discard) {
	r.discards[d.Reason]++
	r.observer(d)
}

// Receiving reports whether an image is being assembled.
func (r *Reassembler) Receiving() bool { return r.receiving }

// Buffered returns the number of bytes held for the in-progress image.
func (r *Reassembler) Buffered() int { return len(r.buf) }

// Next returns the frame index required for the next continuation.
func (r *Reassembler) Next() uint16 { return r.next }

// Stats returns a snapshot of the counters.
func (r *Reassembler) Stats() Stats {
	s := Stats{
		Chunks:   r.chunks,
		Bytes:    r.bytes,
		Images:   r.images,
		Discards: make(map[string]uint64, numReasons),
	}
	for i, n := range r.discards {
		s.Discards[Reason(i).String()] = n
	}
	return s
}
