package camera

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/mzyy94/glasscap/internal/chunk"
	"github.com/mzyy94/glasscap/internal/postproc"
)

type fakeTransport struct {
	ch chan []byte

	mu   sync.Mutex
	sent []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{ch: make(chan []byte, 64)}
}

func (f *fakeTransport) Notifications() <-chan []byte { return f.ch }

func (f *fakeTransport) Send(_ context.Context, cmd byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeTransport) Close() error {
	close(f.ch)
	return nil
}

func (f *fakeTransport) Sent() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.sent...)
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for y := range 24 {
		for x := range 32 {
			img.Set(x, y, color.RGBA{G: uint8(x * 8), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func startCamera(t *testing.T, tr *fakeTransport, opts Options, sinks ...Sink) (*Camera, func() error) {
	t.Helper()
	cam := New(tr, postproc.NewProcessor(postproc.Config{}), opts, sinks...)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- cam.Run(ctx) }()
	stop := func() error {
		cancel()
		select {
		case err := <-errc:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return")
			return nil
		}
	}
	return cam, stop
}

func TestCamera_DeliversPhoto(t *testing.T) {
	tr := newFakeTransport()
	gallery := NewGallery(4)
	cam, stop := startCamera(t, tr, Options{}, gallery)

	data := testJPEG(t)
	frames, err := chunk.Split(data, chunk.DefaultPayloadSize)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	for _, f := range frames {
		tr.ch <- f
	}

	waitFor(t, "photo", func() bool { return gallery.Unread() == 1 })
	if err := stop(); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	photo, ok := gallery.Latest()
	if !ok {
		t.Fatal("gallery is empty")
	}
	if !bytes.Equal(photo.Data, data) {
		t.Error("photo bytes differ from the transmitted JPEG")
	}
	if photo.Width != 32 || photo.Height != 24 {
		t.Errorf("size = %dx%d, want 32x24", photo.Width, photo.Height)
	}

	st := cam.Status()
	if st.Reassembly.Images != 1 || st.Processed != 1 {
		t.Errorf("Status = %+v, want 1 image processed", st)
	}
	if st.Reassembly.Chunks != uint64(len(frames)) {
		t.Errorf("Chunks = %d, want %d", st.Reassembly.Chunks, len(frames))
	}
}

func TestCamera_ProcessErrorCounted(t *testing.T) {
	tr := newFakeTransport()
	var got int
	var mu sync.Mutex
	sink := SinkFunc(func(postproc.Photo) error {
		mu.Lock()
		got++
		mu.Unlock()
		return nil
	})
	cam, stop := startCamera(t, tr, Options{}, sink)

	tr.ch <- []byte{0x00, 0x00, 'n', 'o', 't', 'j', 'p', 'g'}
	tr.ch <- chunk.Terminator()

	waitFor(t, "process error", func() bool { return cam.Status().ProcessErrs == 1 })
	stop()

	mu.Lock()
	defer mu.Unlock()
	if got != 0 {
		t.Errorf("sink called %d times for an undecodable image", got)
	}
}

func TestCamera_StallResetsReassembler(t *testing.T) {
	tr := newFakeTransport()
	cam, stop := startCamera(t, tr, Options{StallTimeout: 40 * time.Millisecond})
	defer stop()

	tr.ch <- []byte{0x00, 0x00, 1, 2, 3}
	waitFor(t, "receiving", func() bool { return cam.Status().Receiving })
	waitFor(t, "stall reset", func() bool {
		st := cam.Status()
		return !st.Receiving && st.Reassembly.Discards["stalled"] == 1
	})

	// A continuation for the abandoned image is now premature.
	tr.ch <- []byte{0x01, 0x00, 4}
	waitFor(t, "premature continuation", func() bool {
		return cam.Status().Reassembly.Discards["premature_continuation"] == 1
	})
}

func TestCamera_TransportCloseStopsRun(t *testing.T) {
	tr := newFakeTransport()
	cam := New(tr, postproc.NewProcessor(postproc.Config{}), Options{})
	errc := make(chan error, 1)
	go func() { errc <- cam.Run(context.Background()) }()

	tr.Close()
	select {
	case err := <-errc:
		if !errors.Is(err, ErrTransportClosed) {
			t.Errorf("Run err = %v, want ErrTransportClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after transport close")
	}
}

func TestCamera_QueueFullDropsImage(t *testing.T) {
	tr := newFakeTransport()
	release := make(chan struct{})
	sink := SinkFunc(func(postproc.Photo) error {
		<-release
		return nil
	})
	cam, stop := startCamera(t, tr, Options{QueueSize: 1}, sink)

	frames, err := chunk.Split(testJPEG(t), chunk.DefaultPayloadSize)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	// One image blocks in the sink and one waits in the queue, so the third
	// has nowhere to go.
	for range 3 {
		for _, f := range frames {
			tr.ch <- f
		}
	}
	waitFor(t, "three images", func() bool { return cam.Status().Reassembly.Images == 3 })
	if got := cam.Status().QueueDrops; got == 0 {
		t.Error("QueueDrops = 0, want at least one dropped image")
	}

	// The receive path keeps going while the sink is stuck.
	tr.ch <- []byte{0x00, 0x00, 0xFF, 0xD8}
	waitFor(t, "next image started", func() bool { return cam.Status().Receiving })

	close(release)
	if err := stop(); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	st := cam.Status()
	if st.Processed+st.QueueDrops != 3 {
		t.Errorf("processed %d + dropped %d, want 3", st.Processed, st.QueueDrops)
	}
}

func TestCamera_RunOnce(t *testing.T) {
	tr := newFakeTransport()
	cam, stop := startCamera(t, tr, Options{})
	waitFor(t, "running", func() bool {
		cam.mu.Lock()
		defer cam.mu.Unlock()
		return cam.started
	})
	if err := cam.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run err = %v, want ErrAlreadyRunning", err)
	}
	if err := stop(); err != nil {
		t.Fatalf("Run returned %v", err)
	}
}

func TestCamera_TriggerCommands(t *testing.T) {
	tr := newFakeTransport()
	cam, stop := startCamera(t, tr, Options{Interval: 5 * time.Second})

	waitFor(t, "initial capture command", func() bool { return len(tr.Sent()) >= 1 })
	cam.SetInterval(0)
	waitFor(t, "single shot command", func() bool { return len(tr.Sent()) >= 2 })
	if err := stop(); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	want := []byte{5, chunk.CommandSingleShot, chunk.CommandStop}
	if got := tr.Sent(); !bytes.Equal(got, want) {
		t.Errorf("sent = %v, want %v", got, want)
	}
	if got := cam.Status().Interval; got != 0 {
		t.Errorf("Interval = %v, want 0", got)
	}
}

func TestCamera_Retrigger(t *testing.T) {
	tr := newFakeTransport()
	_, stop := startCamera(t, tr, Options{Interval: 3 * time.Second, RetriggerEvery: 10 * time.Millisecond})
	waitFor(t, "retrigger", func() bool { return len(tr.Sent()) >= 3 })
	stop()
	for i, cmd := range tr.Sent()[:3] {
		if cmd != 3 {
			t.Errorf("command %d = %d, want 3", i, cmd)
		}
	}
}

func TestGallery(t *testing.T) {
	g := NewGallery(3)
	if _, ok := g.Latest(); ok {
		t.Error("empty gallery returned a latest photo")
	}
	changed := g.Changed()
	for _, id := range []string{"a", "b", "c", "d"} {
		g.HandlePhoto(postproc.Photo{ID: id})
	}
	select {
	case <-changed:
	default:
		t.Error("Changed channel not closed after HandlePhoto")
	}

	var ids []string
	for _, p := range g.List() {
		ids = append(ids, p.ID)
	}
	if want := []string{"d", "c", "b"}; !slices.Equal(ids, want) {
		t.Errorf("List = %v, want %v", ids, want)
	}
	if _, ok := g.Get("a"); ok {
		t.Error("evicted photo still present")
	}
	if p, ok := g.Get("c"); !ok || p.ID != "c" {
		t.Errorf("Get(c) = %+v, %v", p, ok)
	}

	if n := g.Unread(); n != 3 {
		t.Errorf("Unread = %d, want 3", n)
	}
	taken := g.TakeUnread()
	if len(taken) != 3 || taken[0].ID != "b" || taken[2].ID != "d" {
		t.Errorf("TakeUnread = %+v, want b..d", taken)
	}
	if g.TakeUnread() != nil {
		t.Error("second TakeUnread should be empty")
	}
	g.HandlePhoto(postproc.Photo{ID: "e"})
	if taken := g.TakeUnread(); len(taken) != 1 || taken[0].ID != "e" {
		t.Errorf("TakeUnread = %+v, want [e]", taken)
	}
}
