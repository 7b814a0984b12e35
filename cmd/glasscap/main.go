package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mzyy94/glasscap/internal/camera"
	"github.com/mzyy94/glasscap/internal/config"
	"github.com/mzyy94/glasscap/internal/escl"
	"github.com/mzyy94/glasscap/internal/observability"
	"github.com/mzyy94/glasscap/internal/postproc"
	"github.com/mzyy94/glasscap/internal/store"
	"github.com/mzyy94/glasscap/internal/transport"
	"github.com/mzyy94/glasscap/internal/webui"
)

func main() {
	cfg, err := loadConfig()
	logLevel := parseLogLevel(cfg.LogLevel)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Transport to the BLE bridge
	tr, err := openTransport(cfg)
	if err != nil {
		slog.Error("transport setup failed", "err", err)
		os.Exit(1)
	}
	defer tr.Close()

	observability.RegisterMetrics()
	if err := observability.RegisterTransport(cfg.Transport, tr.Stats); err != nil {
		slog.Warn("transport metrics unavailable", "err", err)
	}

	// Runtime settings
	var settings *config.Store
	if cfg.DataDir != "" {
		settings, err = config.NewStore(cfg.DataDir, cfg.Defaults)
		if err != nil {
			slog.Error("settings store failed", "dir", cfg.DataDir, "err", err)
			os.Exit(1)
		}
	} else {
		settings = config.NewMemoryStore(cfg.Defaults)
	}
	current := settings.Get()

	proc := postproc.NewProcessor(current.ProcessorConfig())
	gallery := camera.NewGallery(cfg.GallerySize)
	sinks := []camera.Sink{gallery}

	var archive *store.Archive
	if cfg.ArchiveDir != "" {
		archive, err = store.OpenArchive(cfg.ArchiveDir)
		if err != nil {
			slog.Error("archive setup failed", "dir", cfg.ArchiveDir, "err", err)
			os.Exit(1)
		}
		defer archive.Close()
		sinks = append(sinks, camera.SinkFunc(func(p postproc.Photo) error {
			if !settings.Get().Archive {
				return nil
			}
			return archive.HandlePhoto(p)
		}))
	}

	cam := camera.New(tr, proc, camera.Options{
		Interval:       time.Duration(current.CaptureInterval) * time.Second,
		RetriggerEvery: cfg.RetriggerEvery,
		StallTimeout:   cfg.StallTimeout,
		QueueSize:      cfg.QueueSize,
		MaxImageSize:   cfg.MaxImageSize,
	}, sinks...)

	// eSCL adapter over the photo queue
	localIP := transport.LocalIP("")
	adapter := escl.NewAdapter(gallery, escl.Options{
		Name:    cfg.DeviceName,
		Host:    localIP,
		Capture: cam,
	})
	esclURL := fmt.Sprintf("http://%s/eSCL", net.JoinHostPort(localIP, strconv.Itoa(cfg.ListenPort)))

	ui := webui.NewHandler(webui.Options{
		DeviceName: cfg.DeviceName,
		ESCLURL:    esclURL,
		Camera:     cam,
		Gallery:    gallery,
		Archive:    archive,
		Link:       tr,
		Settings:   settings,
		OnSettings: func(s config.Settings) {
			if err := proc.SetConfig(s.ProcessorConfig()); err != nil {
				slog.Warn("post-processing settings rejected", "err", err)
			}
			cam.SetInterval(time.Duration(s.CaptureInterval) * time.Second)
			slog.Info("settings applied", "rotation", s.Rotation, "interval", s.CaptureInterval, "quality", s.Quality, "archive", s.Archive)
		},
	})

	mux := http.NewServeMux()
	mux.Handle("/eSCL/", escl.NewServer(adapter))
	mux.Handle("/", ui)

	addr := fmt.Sprintf(":%d", cfg.ListenPort)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: logMiddleware(mux),
	}

	if cfg.MDNS {
		mdnsServer, err := escl.Advertise(adapter, cfg.ListenPort)
		if err != nil {
			slog.Error("mDNS registration failed", "err", err)
			os.Exit(1)
		}
		defer mdnsServer.Shutdown()
	}

	// Receive pipeline
	camDone := make(chan error, 1)
	go func() {
		err := cam.Run(ctx)
		if errors.Is(err, camera.ErrTransportClosed) {
			slog.Error("bridge connection lost", "transport", tr)
			cancel()
		}
		camDone <- err
	}()

	// HTTP server
	go func() {
		slog.Info("HTTP server starting", "addr", addr, "escl", esclURL)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("HTTP server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown error", "err", err)
	}
	select {
	case <-camDone:
	case <-shutdownCtx.Done():
		slog.Warn("camera pipeline did not stop in time")
	}

	slog.Info("shutdown complete")
}

// bridge is what main needs from a transport.
type bridge interface {
	transport.Transport
	Stats() transport.Stats
	String() string
}

// openTransport outlives the signal context so the stop command can still be
// sent while shutting down.
func openTransport(cfg config.Config) (bridge, error) {
	switch cfg.Transport {
	case "serial":
		return transport.OpenSerial(cfg.SerialPath, cfg.Serial, transport.DefaultQueueSize)
	default:
		return transport.ListenUDP(context.Background(), transport.UDPOptions{
			ListenAddr: cfg.UDPListen,
			BridgeAddr: cfg.UDPBridge,
			QueueSize:  transport.DefaultQueueSize,
		})
	}
}

// loadConfig reads GLASSCAP_CONFIG if set and applies GLASSCAP_* overrides.
func loadConfig() (config.Config, error) {
	cfg := config.DefaultConfig()
	if path := os.Getenv("GLASSCAP_CONFIG"); path != "" {
		var err error
		cfg, err = config.LoadFile(path)
		if err != nil {
			return config.DefaultConfig(), err
		}
	}

	cfg.LogLevel = envStr("GLASSCAP_LOG_LEVEL", cfg.LogLevel)
	cfg.DeviceName = envStr("GLASSCAP_DEVICE_NAME", cfg.DeviceName)
	cfg.ListenPort = envInt("GLASSCAP_LISTEN_PORT", cfg.ListenPort)
	cfg.DataDir = envStr("GLASSCAP_DATA_DIR", cfg.DataDir)
	cfg.ArchiveDir = envStr("GLASSCAP_ARCHIVE_DIR", cfg.ArchiveDir)
	cfg.MDNS = envBool("GLASSCAP_MDNS", cfg.MDNS)
	cfg.Transport = strings.ToLower(envStr("GLASSCAP_TRANSPORT", cfg.Transport))
	cfg.UDPListen = envStr("GLASSCAP_UDP_LISTEN", cfg.UDPListen)
	cfg.UDPBridge = envStr("GLASSCAP_UDP_BRIDGE", cfg.UDPBridge)
	cfg.SerialPath = envStr("GLASSCAP_SERIAL_PATH", cfg.SerialPath)
	cfg.Serial.BaudRate = envInt("GLASSCAP_SERIAL_BAUD", cfg.Serial.BaudRate)
	cfg.StallTimeout = envDuration("GLASSCAP_STALL_TIMEOUT", cfg.StallTimeout)
	cfg.RetriggerEvery = envDuration("GLASSCAP_RETRIGGER_EVERY", cfg.RetriggerEvery)
	cfg.Defaults.CaptureInterval = envInt("GLASSCAP_CAPTURE_INTERVAL", cfg.Defaults.CaptureInterval)
	if v := os.Getenv("GLASSCAP_ROTATION"); v != "" {
		r, err := postproc.ParseRotation(v)
		if err != nil {
			return cfg, fmt.Errorf("GLASSCAP_ROTATION: %w", err)
		}
		cfg.Defaults.Rotation = int(r)
	}
	if cfg.ArchiveDir == "" && cfg.DataDir != "" {
		cfg.ArchiveDir = filepath.Join(cfg.DataDir, "photos")
	}
	return cfg, cfg.Validate()
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// responseRecorder captures the status code for logging.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, status: 200}
		start := time.Now()
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)
		observability.RecordHTTPRequest(r.Method, rec.status, elapsed)
		level := slog.LevelInfo
		if r.URL.Path == "/api/status" || r.URL.Path == "/metrics" {
			level = slog.LevelDebug
		}
		slog.Log(r.Context(), level, "http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"remote", r.RemoteAddr,
			"duration", elapsed.Round(time.Millisecond),
		)
	})
}
