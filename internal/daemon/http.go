package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"livestreamdvr/internal/logging"
	"livestreamdvr/internal/services"
	"livestreamdvr/internal/timeline"
	"livestreamdvr/internal/vod"
)

// httpServer exposes /metrics and a read-only status API.
type httpServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon
	server *http.Server

	mu       sync.Mutex
	listener net.Listener
}

func newHTTPServer(bind string, d *Daemon, logger *slog.Logger) *httpServer {
	s := &httpServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "http"),
		daemon: d,
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/vods", s.handleVODs)
	mux.HandleFunc("GET /api/vods/{uuid}", s.handleVOD)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *httpServer) listen() error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("metrics listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.logger.Info("http server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *httpServer) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// serve blocks until ctx is done, then shuts the server down.
func (s *httpServer) serve(ctx context.Context) error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	s.server.BaseContext = func(net.Listener) context.Context { return ctx }
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown incomplete", logging.Error(err))
		_ = s.server.Close()
	}
	<-errCh
	return nil
}

// vodView is the JSON shape of a VOD on the status API.
type vodView struct {
	UUID          string            `json:"uuid"`
	ChannelID     string            `json:"channel_id"`
	Provider      string            `json:"provider"`
	Basename      string            `json:"basename"`
	State         string            `json:"state"`
	Failed        bool              `json:"failed"`
	Stopped       bool              `json:"stopped"`
	LastError     string            `json:"last_error,omitempty"`
	NeedsRecovery string            `json:"needs_recovery,omitempty"`
	Retries       int               `json:"retries"`
	StartedAt     *time.Time        `json:"started_at,omitempty"`
	EndedAt       *time.Time        `json:"ended_at,omitempty"`
	Duration      *float64          `json:"duration_seconds,omitempty"`
	TotalSize     int64             `json:"total_size"`
	Segments      int               `json:"segments"`
	Chapters      int               `json:"chapters"`
	GameOffset    *float64          `json:"game_offset,omitempty"`
	Current       *timeline.Chapter `json:"current_chapter,omitempty"`
}

func newVODView(v *vod.VOD) vodView {
	view := vodView{
		UUID:          v.UUID,
		ChannelID:     v.ChannelID,
		Provider:      string(v.Provider()),
		Basename:      v.Basename,
		State:         string(v.State()),
		Failed:        v.Failed,
		Stopped:       v.Stopped,
		LastError:     v.LastError,
		NeedsRecovery: string(v.NeedsRecovery),
		Retries:       v.Retries,
		StartedAt:     v.StartedAt,
		EndedAt:       v.EndedAt,
		Duration:      v.Duration,
		TotalSize:     v.TotalSize(),
		Segments:      len(v.LiveSegments()),
		Chapters:      len(v.Chapters),
	}
	if offset, ok := v.GameOffset(); ok {
		view.GameOffset = &offset
	}
	if current, ok := v.CurrentChapter(); ok {
		view.Current = &current
	}
	return view
}

func (s *httpServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status())
}

func (s *httpServer) handleVODs(w http.ResponseWriter, r *http.Request) {
	var (
		vods []*vod.VOD
		err  error
	)
	switch {
	case r.URL.Query().Get("active") == "1":
		vods, err = s.daemon.store.ListActive(r.Context())
	case r.URL.Query().Get("channel") != "":
		vods, err = s.daemon.store.ListByChannel(r.Context(), r.URL.Query().Get("channel"))
	default:
		vods, err = s.daemon.store.List(r.Context())
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]vodView, 0, len(vods))
	for _, v := range vods {
		views = append(views, newVODView(v))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *httpServer) handleVOD(w http.ResponseWriter, r *http.Request) {
	v, err := s.daemon.manager.Get(r.Context(), r.PathValue("uuid"))
	if errors.Is(err, services.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "vod not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		vodView
		ChapterList any `json:"chapter_list"`
		SegmentList any `json:"segment_list"`
	}{newVODView(v), v.Chapters, v.LiveSegments()})
}

// handleEvents streams bus events as server-sent events until the client
// goes away.
func (s *httpServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	sub := s.daemon.bus.Subscribe()
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	rc := http.NewResponseController(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-sub.C():
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			_ = rc.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *httpServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Debug("response encode failed", logging.Error(err))
	}
}

func (s *httpServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
