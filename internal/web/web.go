package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"vdu/internal/comm"
	"vdu/internal/config"
	"vdu/internal/dashboard"
	appLog "vdu/internal/log"
	"vdu/internal/model"
	"vdu/internal/sysinfo"
)

const cborContentType = "application/cbor"

// Bus is the part of the communication subsystem the API reports on.
type Bus interface {
	Health() error
	Stats() comm.Stats
}

// Server provides the HTTP status API of the display unit.
type Server struct {
	cfg   *config.Config
	bus   Bus
	store *model.Store
	dash  *dashboard.Dashboard
	mux   *http.ServeMux
}

// NewServer constructs a new Server. store and dash may be nil, in which
// case their endpoints answer 503.
func NewServer(cfg *config.Config, bus Bus, store *model.Store, dash *dashboard.Dashboard) *Server {
	s := &Server{
		cfg:   cfg,
		bus:   bus,
		store: store,
		dash:  dash,
		mux:   http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials count as disabled.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="VDU", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Run serves on s.cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/telemetry", s.handleTelemetry)
	s.mux.HandleFunc("/api/bus", s.handleBus)
	s.mux.HandleFunc("/api/page", s.handlePage)
	s.mux.HandleFunc("/api/info", s.handleInfo)
}

// handleHealth answers 200 "OK" while the bus is healthy, 503 with the
// reason otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if s.bus != nil {
		if err := s.bus.Health(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(err.Error()))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "telemetry unavailable")
		return
	}
	writeNegotiated(w, r, http.StatusOK, s.store.Get())
}

func (s *Server) handleBus(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "bus unavailable")
		return
	}
	writeNegotiated(w, r, http.StatusOK, s.bus.Stats())
}

type pageResponse struct {
	Page string `json:"page" cbor:"page"`
}

// handlePage reports the current page on GET and changes it on POST.
// The POST body is "next", "prev" or a page name, either plain or as
// {"page": "..."}.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	if s.dash == nil {
		writeError(w, http.StatusServiceUnavailable, "dashboard unavailable")
		return
	}
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		cmd, err := readPageCommand(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		switch cmd {
		case "next":
			s.dash.Next()
		case "prev":
			s.dash.Prev()
		default:
			p, ok := dashboard.ParsePage(cmd)
			if !ok {
				writeError(w, http.StatusBadRequest, "unknown page")
				return
			}
			s.dash.SetPage(p)
		}
		appLog.Debug("api page changed", "page", s.dash.Page().String())
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeNegotiated(w, r, http.StatusOK, pageResponse{Page: s.dash.Page().String()})
}

func readPageCommand(r *http.Request) (string, error) {
	if q := r.URL.Query().Get("action"); q != "" {
		return strings.ToLower(q), nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 256))
	if err != nil {
		return "", err
	}
	raw := strings.TrimSpace(string(body))
	if strings.HasPrefix(raw, "{") {
		var req pageResponse
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			return "", errors.New("invalid JSON body")
		}
		raw = req.Page
	}
	if raw == "" {
		return "", errors.New("missing page command")
	}
	return strings.ToLower(raw), nil
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeNegotiated(w, r, http.StatusOK, sysinfo.Collect())
}

// wantsCBOR reports whether the client asked for CBOR in Accept.
func wantsCBOR(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mt, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.EqualFold(mt, cborContentType) {
			return true
		}
	}
	return false
}

func writeNegotiated(w http.ResponseWriter, r *http.Request, status int, v any) {
	if !wantsCBOR(r) {
		writeJSON(w, status, v)
		return
	}
	data, err := cbor.Marshal(v)
	if err != nil {
		appLog.Error("failed to encode CBOR response", err)
		writeError(w, http.StatusInternalServerError, "encoding failed")
		return
	}
	w.Header().Set("Content-Type", cborContentType)
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		appLog.Error("failed to write CBOR response", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
