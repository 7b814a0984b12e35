// Package reassembly rebuilds camera images from the chunk stream.
//
// Chunks are applied strictly in arrival order. Frame indices of one image
// form the closed sequence 0, 1, 2, ... followed by the terminator 0xFFFF;
// any deviation abandons the image because the link offers no way to ask for
// a single missing frame. The next capture is the retry.
//
// State machine (Reassembler):
//
//	          Continuation (ignored)
//	           ┌───┐
//	           │   ▼
//	        ┌──────────┐   Start(0)    ┌───────────┐ ◄─┐ Continuation
//	  ────► │   Idle   │ ────────────► │ Receiving │   │ (index == next)
//	        └──────────┘               └─────┬─────┘ ──┘
//	             ▲                           │
//	             │ Terminator (emit if buffer non-empty)
//	             │ Continuation (index != next)
//	             │ buffer > MaxImageSize
//	             └───────────────────────────┘
//
// A Start while Receiving discards the partial image and begins a new one;
// frame 0 is both the start marker and the first payload-bearing frame.
//
// Reassembler is not safe for concurrent use. One goroutine owns it.
package reassembly
