package main

import (
	"time"

	"github.com/mzyy94/glasscap/internal/chunk"
)

type sendOptions struct {
	PayloadSize int
	Gap         time.Duration
	Drop        map[int]bool // frame indices to leave out
	Dup         map[int]bool // frame indices to send twice
}

// plan splits data into notifications and applies the drop and duplicate
// sets. The terminator is never dropped or duplicated.
func plan(data []byte, opts sendOptions) ([][]byte, error) {
	frames, err := chunk.Split(data, opts.PayloadSize)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(frames)+len(opts.Dup))
	for i, f := range frames {
		if i == len(frames)-1 {
			out = append(out, f)
			break
		}
		if opts.Drop[i] {
			continue
		}
		out = append(out, f)
		if opts.Dup[i] {
			out = append(out, f)
		}
	}
	return out, nil
}
