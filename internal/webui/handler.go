package webui

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/mzyy94/glasscap/internal/camera"
	"github.com/mzyy94/glasscap/internal/config"
	"github.com/mzyy94/glasscap/internal/observability"
	"github.com/mzyy94/glasscap/internal/postproc"
	"github.com/mzyy94/glasscap/internal/store"
	"github.com/mzyy94/glasscap/internal/transport"
)

//go:embed static
var staticFS embed.FS

// Link is the transport as seen by the status page.
type Link interface {
	String() string
	Stats() transport.Stats
}

// Options wires the handler to the rest of the service.
type Options struct {
	DeviceName string
	ESCLURL    string

	Camera   *camera.Camera
	Gallery  *camera.Gallery
	Archive  *store.Archive // nil when archiving is disabled
	Link     Link
	Settings *config.Store

	// OnSettings is called after settings were saved.
	OnSettings func(config.Settings)
}

type handler struct {
	opts Options
}

// NewHandler creates an HTTP handler for the Web UI and its JSON API.
func NewHandler(opts Options) http.Handler {
	h := &handler{opts: opts}
	mux := http.NewServeMux()
	staticContent, _ := fs.Sub(staticFS, "static")
	mux.HandleFunc("GET /api/status", h.handleStatus)
	mux.HandleFunc("GET /api/settings", h.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", h.handlePutSettings)
	mux.HandleFunc("POST /api/capture", h.handleCapture)
	mux.HandleFunc("GET /api/photos", h.handleListPhotos)
	mux.HandleFunc("GET /api/photos/latest", h.handleLatestPhoto)
	mux.HandleFunc("GET /api/photos/{id}", h.handlePhoto)
	mux.HandleFunc("GET /api/photos.pdf", h.handlePDF)
	mux.Handle("GET /metrics", observability.Handler())
	mux.Handle("GET /", http.FileServer(http.FS(staticContent)))
	return mux
}

type statusResponse struct {
	Device    string          `json:"device"`
	Transport linkStatus      `json:"transport"`
	Camera    camera.Status   `json:"camera"`
	Photos    int             `json:"photos"`
	Unread    int             `json:"unread"`
	Latest    *postproc.Photo `json:"latest,omitempty"`
	ESCLURL   string          `json:"esclUrl,omitempty"`
	UpdatedAt string          `json:"updatedAt"`
}

type linkStatus struct {
	Name  string          `json:"name"`
	Stats transport.Stats `json:"stats"`
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Device:    h.opts.DeviceName,
		Camera:    h.opts.Camera.Status(),
		Photos:    len(h.opts.Gallery.List()),
		Unread:    h.opts.Gallery.Unread(),
		ESCLURL:   h.opts.ESCLURL,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if h.opts.Link != nil {
		resp.Transport = linkStatus{Name: h.opts.Link.String(), Stats: h.opts.Link.Stats()}
	}
	if p, ok := h.opts.Gallery.Latest(); ok {
		resp.Latest = &p
	}
	writeJSON(w, resp)
}

// --- Settings API ---

func (h *handler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.opts.Settings.Get())
}

func (h *handler) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	s := h.opts.Settings.Get()
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.opts.Settings.Update(s); err != nil {
		slog.Warn("settings save failed", "err", err)
		http.Error(w, "failed to save settings", http.StatusInternalServerError)
		return
	}
	if h.opts.OnSettings != nil {
		h.opts.OnSettings(s)
	}
	writeJSON(w, s)
}

// --- Capture ---

func (h *handler) handleCapture(w http.ResponseWriter, r *http.Request) {
	if err := h.opts.Camera.Capture(r.Context()); err != nil {
		slog.Warn("capture request failed", "err", err)
		http.Error(w, "capture failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// --- Photos ---

func (h *handler) handleListPhotos(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("source") == "archive" {
		if h.opts.Archive == nil {
			http.Error(w, "archive disabled", http.StatusNotFound)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		records, err := h.opts.Archive.List(r.Context(), limit)
		if err != nil {
			slog.Warn("archive list failed", "err", err)
			http.Error(w, "archive unavailable", http.StatusInternalServerError)
			return
		}
		writeJSON(w, records)
		return
	}
	writeJSON(w, h.opts.Gallery.List())
}

func (h *handler) handleLatestPhoto(w http.ResponseWriter, r *http.Request) {
	p, ok := h.opts.Gallery.Latest()
	if !ok {
		http.Error(w, "no photo yet", http.StatusNotFound)
		return
	}
	writeJPEG(w, p)
}

func (h *handler) handlePhoto(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if p, ok := h.opts.Gallery.Get(id); ok {
		writeJPEG(w, p)
		return
	}
	if h.opts.Archive != nil {
		p, err := h.opts.Archive.Load(r.Context(), id)
		if err == nil {
			writeJPEG(w, p)
			return
		}
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("archive load failed", "id", id, "err", err)
			http.Error(w, "archive unavailable", http.StatusInternalServerError)
			return
		}
	}
	http.NotFound(w, r)
}

func (h *handler) handlePDF(w http.ResponseWriter, r *http.Request) {
	photos := h.opts.Gallery.List()
	if len(photos) == 0 {
		http.Error(w, "no photos", http.StatusNotFound)
		return
	}
	slices.Reverse(photos) // oldest first
	data, err := store.GeneratePDF(photos)
	if err != nil {
		slog.Warn("pdf generation failed", "err", err)
		http.Error(w, "failed to generate PDF", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", "glasscap_"+time.Now().Format("20060102_150405")+".pdf"))
	w.Write(data)
}

func writeJPEG(w http.ResponseWriter, p postproc.Photo) {
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(p.Data)))
	w.Header().Set("X-Photo-Id", p.ID)
	w.Header().Set("Cache-Control", "no-store")
	w.Write(p.Data)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
