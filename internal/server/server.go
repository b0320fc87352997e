package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/emberhq/kilnd/internal/orchestrator"
	"github.com/emberhq/kilnd/internal/paths"
)

const (

	// Group name used to grant socket access. Members of this group can
	// connect to the daemon socket without owning the process.
	socketGroup = "kilnd"

	// File mode applied to the Unix socket. Owner and group get read-write
	// (required for connect); others get no access.
	socketMode = 0660

	// Bound on the time a client may take to send request headers.
	readHeaderTimeout = 10 * time.Second
)

// The build operations the HTTP layer exposes. Implemented by
// [orchestrator.Orchestrator]; tests substitute stubs.
type Builds interface {
	Start(ctx context.Context, req orchestrator.Request) (string, error)
	Status(id string) (orchestrator.Build, error)
	List() []orchestrator.Build
	Cancel(id string) bool
	Push(ctx context.Context, id string, reg orchestrator.Registry) (string, error)
}

// Availability probe for the external build tool, used by the health
// endpoint. Implemented by [runtime.Docker].
type Pinger interface {
	Ping(ctx context.Context) (string, error)
}

// Holds server configuration.
type Config struct {
	Listen  string // Unix socket path or TCP host:port. Empty uses the default socket.
	Builds  Builds
	Runtime Pinger
}

// Serves the build API over a Unix domain socket or TCP.
type Server struct {
	listenAddr string
	builds     Builds
	runtime    Pinger

	httpSrv   *http.Server
	listener  net.Listener
	startedAt time.Time
	done      chan struct{} // Closed when the serve loop exits.
}

// Creates a new server instance.
//
// The listener is not opened until [Server.Start] is called.
func New(cfg Config) (*Server, error) {
	if cfg.Builds == nil {
		return nil, fmt.Errorf("%w: no build orchestrator", ErrServer)
	}
	if cfg.Runtime == nil {
		return nil, fmt.Errorf("%w: no runtime probe", ErrServer)
	}

	listenAddr := cfg.Listen
	if listenAddr == "" {
		listenAddr = paths.Socket()
	}

	return &Server{
		listenAddr: listenAddr,
		builds:     cfg.Builds,
		runtime:    cfg.Runtime,
		done:       make(chan struct{}),
	}, nil
}

// Opens the listener and begins serving requests.
func (s *Server) Start() error {
	listener, err := listen(s.listenAddr)
	if err != nil {
		return err
	}

	s.listener = listener
	s.startedAt = time.Now()
	s.httpSrv = &http.Server{
		Handler:           s.router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	if err := writePID(); err != nil {
		slog.Warn("failed to write PID file", "error", err)
	}

	slog.Info("server listening", "address", s.listenAddr)

	go s.serve()
	return nil
}

// Runs the HTTP serve loop until shutdown.
func (s *Server) serve() {
	defer close(s.done)

	if err := s.httpSrv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
	}
}

// Shuts down the server gracefully and cleans up resources.
//
// In-flight requests get until the context's deadline to complete.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}

	if isSocketPath(s.listenAddr) {
		os.Remove(s.listenAddr)
	}
	os.Remove(paths.PIDFile())

	return err
}

// Blocks until the server stops.
func (s *Server) Wait() {
	<-s.done
}

// Builds the route table.
func (s *Server) router() *mux.Router {
	r := mux.NewRouter()

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/builds", s.handleStart).Methods(http.MethodPost)
	v1.HandleFunc("/builds", s.handleList).Methods(http.MethodGet)
	v1.HandleFunc("/builds/{id}", s.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/builds/{id}/logs", s.handleLogs).Methods(http.MethodGet)
	v1.HandleFunc("/builds/{id}/cancel", s.handleCancel).Methods(http.MethodPost)
	v1.HandleFunc("/builds/{id}/push", s.handlePush).Methods(http.MethodPost)
	v1.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	return r
}

// Reports whether the listen address names a filesystem socket path
// rather than a TCP host:port.
func isSocketPath(addr string) bool {
	return strings.Contains(addr, "/")
}

// Creates the listener for the given address.
//
// Socket paths get a Unix listener with stale-socket removal and access
// restricted to the owner and the kilnd group; anything else is treated
// as a TCP host:port.
func listen(addr string) (net.Listener, error) {
	if !isSocketPath(addr) {
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("%w: listen on %s: %w", ErrServer, addr, err)
		}
		return listener, nil
	}

	if err := os.MkdirAll(filepath.Dir(addr), paths.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServer, err)
	}

	os.Remove(addr)

	listener, err := net.Listen("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: listen on %s: %w", ErrServer, addr, err)
	}

	if err := setSocketPermissions(addr); err != nil {
		listener.Close()
		return nil, err
	}

	return listener, nil
}

// Restricts socket access to owner and group. The daemon does not run as
// root; any user in the kilnd group can also connect.
func setSocketPermissions(socketPath string) error {
	if err := os.Chmod(socketPath, socketMode); err != nil {
		return fmt.Errorf("%w: chmod socket %s: %w", ErrServer, socketPath, err)
	}

	if g, err := user.LookupGroup(socketGroup); err == nil {
		if gid, err := strconv.Atoi(g.Gid); err == nil {
			if err := os.Chown(socketPath, -1, gid); err != nil {
				slog.Warn("failed to chgrp socket", "group", socketGroup, "error", err)
			}
		}
	} else {
		slog.Warn("socket group not found, socket accessible to owner only", "group", socketGroup)
	}

	return nil
}

// Writes the daemon PID to the PID file so the CLI can detect whether the
// daemon is already running and send it signals.
func writePID() error {
	if err := os.MkdirAll(paths.Runtime(), paths.DefaultDirMode); err != nil {
		return err
	}
	return os.WriteFile(paths.PIDFile(), []byte(strconv.Itoa(os.Getpid())), paths.DefaultFileMode)
}
