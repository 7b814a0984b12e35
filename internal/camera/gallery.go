package camera

import (
	"sync"

	"github.com/mzyy94/glasscap/internal/postproc"
)

// DefaultGallerySize is the number of photos kept in memory.
const DefaultGallerySize = 32

// Gallery keeps the most recent photos in memory, newest last. Photos not
// yet handed out by TakeUnread are tracked so that a scan job only picks up
// new captures.
type Gallery struct {
	mu     sync.Mutex
	size   int
	photos []postproc.Photo
	unread int // number of trailing photos not yet taken
	notify chan struct{}
}

// NewGallery creates a gallery holding up to size photos.
func NewGallery(size int) *Gallery {
	if size <= 0 {
		size = DefaultGallerySize
	}
	return &Gallery{size: size, notify: make(chan struct{})}
}

// HandlePhoto implements Sink.
func (g *Gallery) HandlePhoto(p postproc.Photo) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.photos = append(g.photos, p)
	if over := len(g.photos) - g.size; over > 0 {
		g.photos = append(g.photos[:0:0], g.photos[over:]...)
	}
	g.unread = min(g.unread+1, len(g.photos))
	close(g.notify)
	g.notify = make(chan struct{})
	return nil
}

// Latest returns the newest photo.
func (g *Gallery) Latest() (postproc.Photo, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.photos) == 0 {
		return postproc.Photo{}, false
	}
	return g.photos[len(g.photos)-1], true
}

// List returns the photos, newest first.
func (g *Gallery) List() []postproc.Photo {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]postproc.Photo, len(g.photos))
	for i, p := range g.photos {
		out[len(out)-1-i] = p
	}
	return out
}

// Get looks a photo up by ID.
func (g *Gallery) Get(id string) (postproc.Photo, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range g.photos {
		if p.ID == id {
			return p, true
		}
	}
	return postproc.Photo{}, false
}

// Unread reports how many photos have not been taken yet.
func (g *Gallery) Unread() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.unread
}

// TakeUnread returns the unread photos, oldest first, and marks them read.
func (g *Gallery) TakeUnread() []postproc.Photo {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.unread == 0 {
		return nil
	}
	out := append([]postproc.Photo(nil), g.photos[len(g.photos)-g.unread:]...)
	g.unread = 0
	return out
}

// Changed returns a channel closed on the next HandlePhoto.
func (g *Gallery) Changed() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.notify
}
