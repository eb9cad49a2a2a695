// Package api serves connection state over a loopback HTTP listener so
// that other invocations of the CLI can query and drive a running
// instance. Requests must carry the per-instance token from the token
// file; browser requests (any Origin header) and non-loopback Host
// headers are refused.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/yllada/vpnrdp-manager/common"
	"github.com/yllada/vpnrdp-manager/connection"
	"github.com/yllada/vpnrdp-manager/profile"
	"github.com/yllada/vpnrdp-manager/traffic"
)

// Profiles lists stored profiles.
type Profiles interface {
	List() []profile.Profile
}

// Connections is the orchestrator surface the API drives.
type Connections interface {
	List() []connection.Connection
	Get(name string) (connection.Connection, bool)
	LastOutcome(name string) (connection.Connection, bool)
	Connect(name string) error
	Disconnect(name string) error
}

// Traffic exposes the sampler's window.
type Traffic interface {
	Latest() traffic.Sample
	History() (in, out []uint64)
	ScaleMax() float64
	Monitored() string
	Interval() time.Duration
}

// ProfileStatus is a stored profile with its current status.
type ProfileStatus struct {
	profile.Profile
	Status  connection.Status `json:"status"`
	Message string            `json:"message,omitempty"`
}

// TrafficView is the traffic chart state.
type TrafficView struct {
	Monitored string         `json:"monitored"`
	Latest    traffic.Sample `json:"latest"`
	Summary   string         `json:"summary"`
	In        []uint64       `json:"in"`
	Out       []uint64       `json:"out"`
	ScaleMax  float64        `json:"scale_max"`
	Interval  float64        `json:"interval_seconds"`
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Error codes carried in error responses.
const (
	codeProfileNotFound  = "profile_not_found"
	codeNotConnected     = "not_connected"
	codeAlreadyConnected = "already_connected"
	codeForbidden        = "forbidden"
	codeUnauthorized     = "unauthorized"
)

var errorCodes = []struct {
	err    error
	code   string
	status int
}{
	{common.ErrProfileNotFound, codeProfileNotFound, http.StatusNotFound},
	{common.ErrNotConnected, codeNotConnected, http.StatusNotFound},
	{common.ErrAlreadyConnected, codeAlreadyConnected, http.StatusConflict},
	{common.ErrAPIRefused, codeUnauthorized, http.StatusUnauthorized},
	{common.ErrAPIRefused, codeForbidden, http.StatusForbidden},
}

// Server is the local status API.
type Server struct {
	profiles Profiles
	conns    Connections
	traffic  Traffic
	token    string
	router   *mux.Router
}

// NewServer builds the router. traffic may be nil. Every request must
// present token as a bearer credential.
func NewServer(profiles Profiles, conns Connections, t Traffic, token string) *Server {
	s := &Server{
		profiles: profiles,
		conns:    conns,
		traffic:  t,
		token:    token,
		router:   mux.NewRouter(),
	}

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.guard)
	v1.HandleFunc("/profiles", s.handleProfiles).Methods(http.MethodGet)
	v1.HandleFunc("/connections", s.handleConnections).Methods(http.MethodGet)
	v1.HandleFunc("/connections/{name}", s.handleConnect).Methods(http.MethodPost)
	v1.HandleFunc("/connections/{name}", s.handleDisconnect).Methods(http.MethodDelete)
	v1.HandleFunc("/traffic", s.handleTraffic).Methods(http.MethodGet)
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done. Only loopback
// addresses are accepted.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := Listen(addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lis)
}

// Listen binds a loopback TCP address.
func Listen(addr string) (net.Listener, error) {
	if err := checkLoopback(addr); err != nil {
		return nil, err
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return lis, nil
}

// Serve serves on lis until ctx is done.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	common.LogInfo("Status API listening on %s", lis.Addr())
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// guard refuses browser requests, requests addressed to a non-loopback
// host name and requests without the instance token.
func (s *Server) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Origin") != "" {
			writeJSON(w, http.StatusForbidden, errorBody{Error: "cross-origin requests are not allowed", Code: codeForbidden})
			return
		}
		if !loopbackHost(r.Host) {
			writeJSON(w, http.StatusForbidden, errorBody{Error: "requests must address a loopback host", Code: codeForbidden})
			return
		}
		want := "Bearer " + s.token
		if s.token == "" || subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), []byte(want)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing or wrong API token", Code: codeUnauthorized})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func loopbackHost(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func checkLoopback(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	if host == "localhost" {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}
	return fmt.Errorf("listen address %q is not a loopback address", addr)
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	list := s.profiles.List()
	out := make([]ProfileStatus, 0, len(list))
	for _, p := range list {
		ps := ProfileStatus{Profile: p, Status: connection.StatusDisconnected}
		if c, ok := s.conns.Get(p.Name); ok {
			ps.Status, ps.Message = c.Status, c.Message
		} else if c, ok := s.conns.LastOutcome(p.Name); ok {
			ps.Status, ps.Message = c.Status, c.Message
		}
		out = append(out, ps)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.conns.List())
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.conns.Connect(name); err != nil {
		writeError(w, err)
		return
	}
	c, _ := s.conns.Get(name)
	writeJSON(w, http.StatusAccepted, c)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.conns.Disconnect(name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTraffic(w http.ResponseWriter, r *http.Request) {
	if s.traffic == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "traffic sampling is not running"})
		return
	}
	in, out := s.traffic.History()
	latest := s.traffic.Latest()
	writeJSON(w, http.StatusOK, TrafficView{
		Monitored: s.traffic.Monitored(),
		Latest:    latest,
		Summary:   traffic.FormatSummary(latest, s.traffic.Interval()),
		In:        in,
		Out:       out,
		ScaleMax:  s.traffic.ScaleMax(),
		Interval:  s.traffic.Interval().Seconds(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		common.LogDebug("Failed to write API response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			writeJSON(w, ec.status, errorBody{Error: err.Error(), Code: ec.code})
			return
		}
	}
	common.LogWarn("API request failed: %v", err)
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
}
