package main

import (
	"bytes"
	"testing"

	"github.com/mzyy94/glasscap/internal/chunk"
	"github.com/mzyy94/glasscap/internal/reassembly"
)

func feed(frames [][]byte) (*reassembly.Reassembler, []*reassembly.Image) {
	re := reassembly.New(reassembly.Options{Observer: func(reassembly.Discard) {}})
	var images []*reassembly.Image
	for _, f := range frames {
		if img := re.ApplyRaw(f); img != nil {
			images = append(images, img)
		}
	}
	return re, images
}

func TestPlan_Clean(t *testing.T) {
	data := bytes.Repeat([]byte("jpeg"), 150)
	frames, err := plan(data, sendOptions{PayloadSize: 100})
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if len(frames) != 7 {
		t.Fatalf("got %d frames, want 7", len(frames))
	}
	_, images := feed(frames)
	if len(images) != 1 || !bytes.Equal(images[0].Data, data) {
		t.Error("clean plan did not reassemble to the original bytes")
	}
}

func TestPlan_DropDiscardsImage(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 500)
	frames, err := plan(data, sendOptions{PayloadSize: 100, Drop: map[int]bool{2: true}})
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if len(frames) != 5 {
		t.Fatalf("got %d frames, want 5", len(frames))
	}
	re, images := feed(frames)
	if len(images) != 0 {
		t.Error("image with a dropped frame was emitted")
	}
	if n := re.Stats().Discards[reassembly.OutOfOrderFrame.String()]; n != 1 {
		t.Errorf("out-of-order discards = %d, want 1", n)
	}
}

func TestPlan_DuplicateDiscardsImage(t *testing.T) {
	data := bytes.Repeat([]byte{0xCD}, 300)
	frames, err := plan(data, sendOptions{PayloadSize: 100, Dup: map[int]bool{1: true}})
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if !bytes.Equal(frames[1], frames[2]) {
		t.Error("frame 1 not duplicated")
	}
	_, images := feed(frames)
	if len(images) != 0 {
		t.Error("image with a duplicated frame was emitted")
	}
}

func TestPlan_TerminatorKept(t *testing.T) {
	frames, err := plan([]byte("x"), sendOptions{PayloadSize: 10, Drop: map[int]bool{1: true}, Dup: map[int]bool{1: true}})
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if len(frames) != 2 || !bytes.Equal(frames[1], chunk.Terminator()) {
		t.Errorf("frames = %x, want start and terminator", frames)
	}
}
