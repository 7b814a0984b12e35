package camera

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mzyy94/glasscap/internal/chunk"
	"github.com/mzyy94/glasscap/internal/observability"
	"github.com/mzyy94/glasscap/internal/postproc"
	"github.com/mzyy94/glasscap/internal/reassembly"
	"github.com/mzyy94/glasscap/internal/transport"
)

// ErrTransportClosed is returned by Run when the transport stops delivering.
var ErrTransportClosed = errors.New("transport closed")

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("camera already started")

// Sink consumes post-processed photos. Sinks run on the post-processing
// goroutine, one photo at a time.
type Sink interface {
	HandlePhoto(photo postproc.Photo) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(postproc.Photo) error

func (f SinkFunc) HandlePhoto(p postproc.Photo) error { return f(p) }

// Options configures a Camera.
type Options struct {
	Interval       time.Duration // capture cadence requested from the camera; 0 = single shot
	RetriggerEvery time.Duration // re-send the capture command; 0 disables
	StallTimeout   time.Duration // abandon an image with no chunk for this long; 0 disables
	QueueSize      int           // completed images waiting for post-processing; default 4
	MaxImageSize   int           // default chunk.MaxImageSize
}

// Status is a snapshot of the pipeline.
type Status struct {
	Reassembly  reassembly.Stats `json:"reassembly"`
	Receiving   bool             `json:"receiving"`
	Buffered    int              `json:"buffered"`
	LastChunk   time.Time        `json:"lastChunk,omitzero"`
	LastImage   time.Time        `json:"lastImage,omitzero"`
	QueueDrops  uint64           `json:"queueDrops"`
	Processed   uint64           `json:"processed"`
	ProcessErrs uint64           `json:"processErrors"`
	Interval    time.Duration    `json:"interval"`
}

// Camera runs the receive pipeline: transport → reassembler → post-processor
// → sinks.
type Camera struct {
	tr    transport.Transport
	proc  *postproc.Processor
	opts  Options
	sinks []Sink

	images  chan reassembly.Image
	trigger chan time.Duration

	mu         sync.Mutex // guards re and the fields below
	re         *reassembly.Reassembler
	lastChunk  time.Time
	lastImage  time.Time
	queueDrops uint64
	processed  uint64
	procErrs   uint64
	interval   time.Duration
	started    bool
}

// New creates a Camera reading from tr.
func New(tr transport.Transport, proc *postproc.Processor, opts Options, sinks ...Sink) *Camera {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 4
	}
	c := &Camera{
		tr:       tr,
		proc:     proc,
		opts:     opts,
		sinks:    sinks,
		images:   make(chan reassembly.Image, opts.QueueSize),
		trigger:  make(chan time.Duration, 1),
		interval: opts.Interval,
	}
	c.re = reassembly.New(reassembly.Options{
		MaxSize:  opts.MaxImageSize,
		Observer: c.onDiscard,
	})
	return c
}

func (c *Camera) onDiscard(d reassembly.Discard) {
	observability.RecordDiscard(d.Reason.String())
	level := slog.LevelDebug
	if d.Dropped > 0 {
		level = slog.LevelInfo
	}
	slog.Log(context.Background(), level, "image discarded",
		"reason", d.Reason,
		"index", d.Index,
		"expected", d.Expected,
		"dropped_bytes", d.Dropped,
	)
}

// Run consumes notifications until ctx is cancelled or the transport closes.
// A Camera runs at most once; later calls return ErrAlreadyRunning.
func (c *Camera) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.started = true
	c.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.process()
	}()
	triggerCtx, stopTrigger := context.WithCancel(ctx)
	go func() {
		defer wg.Done()
		c.runTrigger(triggerCtx)
	}()
	defer func() {
		stopTrigger()
		close(c.images)
		wg.Wait()
	}()

	var stall <-chan time.Time
	if c.opts.StallTimeout > 0 {
		ticker := time.NewTicker(c.opts.StallTimeout / 2)
		defer ticker.Stop()
		stall = ticker.C
	}

	slog.Info("camera pipeline started", "interval", c.opts.Interval, "stall_timeout", c.opts.StallTimeout)
	notifications := c.tr.Notifications()
	for {
		select {
		case <-ctx.Done():
			slog.Info("camera pipeline stopped")
			return nil
		case raw, ok := <-notifications:
			if !ok {
				slog.Warn("transport closed, camera pipeline stopping")
				return ErrTransportClosed
			}
			c.apply(raw)
		case now := <-stall:
			c.checkStall(now)
		}
	}
}

func (c *Camera) apply(raw []byte) {
	observability.RecordChunk()

	c.mu.Lock()
	c.lastChunk = time.Now()
	img := c.re.ApplyRaw(raw)
	if img != nil {
		c.lastImage = img.Timestamp
	}
	c.mu.Unlock()

	if img == nil {
		return
	}
	observability.RecordImage(len(img.Data))
	slog.Info("image received", "bytes", len(img.Data))

	select {
	case c.images <- *img:
	default:
		c.mu.Lock()
		c.queueDrops++
		c.mu.Unlock()
		observability.RecordQueueDrop()
		slog.Warn("post-processing queue full, image dropped", "bytes", len(img.Data))
	}
}

func (c *Camera) checkStall(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.re.Receiving() && now.Sub(c.lastChunk) > c.opts.StallTimeout {
		c.re.Reset(reassembly.Stalled)
	}
}

// process runs the post-processor and sinks off the receive path.
func (c *Camera) process() {
	for img := range c.images {
		start := time.Now()
		photo, err := c.proc.Process(img)
		observability.RecordPostprocess(time.Since(start), err == nil)
		if err != nil {
			c.mu.Lock()
			c.procErrs++
			c.mu.Unlock()
			slog.Warn("post-processing failed", "bytes", len(img.Data), "err", err)
			continue
		}

		c.mu.Lock()
		c.processed++
		c.mu.Unlock()
		slog.Info("photo ready", "id", photo.ID, "width", photo.Width, "height", photo.Height, "bytes", len(photo.Data))
		for _, s := range c.sinks {
			if err := s.HandlePhoto(photo); err != nil {
				slog.Warn("photo sink failed", "id", photo.ID, "err", err)
			}
		}
	}
}

// SetInterval changes the capture cadence and re-sends the command.
func (c *Camera) SetInterval(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interval = d
	// Keep only the latest request.
	select {
	case <-c.trigger:
	default:
	}
	c.trigger <- d
}

// Capture requests a single shot now.
func (c *Camera) Capture(ctx context.Context) error {
	return c.tr.Send(ctx, chunk.CommandSingleShot)
}

// Status returns a snapshot of pipeline counters.
func (c *Camera) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Reassembly:  c.re.Stats(),
		Receiving:   c.re.Receiving(),
		Buffered:    c.re.Buffered(),
		LastChunk:   c.lastChunk,
		LastImage:   c.lastImage,
		QueueDrops:  c.queueDrops,
		Processed:   c.processed,
		ProcessErrs: c.procErrs,
		Interval:    c.interval,
	}
}
