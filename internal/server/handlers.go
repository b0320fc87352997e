package server

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/gorilla/mux"

	"github.com/emberhq/kilnd/internal"
	"github.com/emberhq/kilnd/internal/orchestrator"
)

// Body of POST /v1/builds.
type startRequest struct {
	BundleID   string            `json:"bundleId"`
	Platform   string            `json:"platform,omitempty"`
	RecipePath string            `json:"recipePath,omitempty"`
	Target     string            `json:"target,omitempty"`
	BuildArgs  map[string]string `json:"buildArgs,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
	Push       *registryRequest  `json:"push,omitempty"`
}

// Registry coordinates and credentials, used both for auto-push on start
// and as the body of POST /v1/builds/{id}/push.
type registryRequest struct {
	Address   string `json:"address"`
	Namespace string `json:"namespace,omitempty"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

type startResponse struct {
	ID       string `json:"id"`
	ImageTag string `json:"imageTag"`
}

type listResponse struct {
	Builds []orchestrator.Build `json:"builds"`
}

type cancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

type pushResponse struct {
	Tag string `json:"tag"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Runtime string `json:"runtime,omitempty"`
	Pid     int    `json:"pid"`
	Uptime  string `json:"uptime"`
}

// Handles POST /v1/builds: accepts a build request and returns the new
// build's id and image tag.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		s.error(w, err)
		return
	}

	id, err := s.builds.Start(r.Context(), toRequest(req))
	if err != nil {
		s.error(w, err)
		return
	}

	build, err := s.builds.Status(id)
	if err != nil {
		s.error(w, err)
		return
	}

	s.respond(w, http.StatusCreated, startResponse{ID: id, ImageTag: build.ImageTag})
}

// Handles GET /v1/builds: lists all known builds, oldest first.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, listResponse{Builds: s.builds.List()})
}

// Handles GET /v1/builds/{id}: returns the build's status snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	build, err := s.builds.Status(mux.Vars(r)["id"])
	if err != nil {
		s.error(w, err)
		return
	}
	s.respond(w, http.StatusOK, build)
}

// Handles GET /v1/builds/{id}/logs: returns the build log as plain text.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	build, err := s.builds.Status(mux.Vars(r)["id"])
	if err != nil {
		s.error(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, strings.Join(build.Log, ""))
}

// Handles POST /v1/builds/{id}/cancel.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.builds.Cancel(id) {
		s.error(w, fmt.Errorf("build %s: %w", id, errdefs.ErrNotFound))
		return
	}
	s.respond(w, http.StatusOK, cancelResponse{Cancelled: true})
}

// Handles POST /v1/builds/{id}/push: publishes a successful build's image
// and returns the qualified tag.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	var req registryRequest
	if err := decodeJSON(r, &req); err != nil {
		s.error(w, err)
		return
	}

	tag, err := s.builds.Push(r.Context(), mux.Vars(r)["id"], orchestrator.Registry{
		Address:   req.Address,
		Namespace: req.Namespace,
		Username:  req.Username,
		Password:  req.Password,
	})
	if err != nil {
		s.error(w, err)
		return
	}

	s.respond(w, http.StatusOK, pushResponse{Tag: tag})
}

// Handles GET /v1/healthz: probes the external build tool and reports
// daemon identity. Responds 503 while the tool is unavailable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Version: internal.VersionString(),
		Pid:     os.Getpid(),
		Uptime:  time.Since(s.startedAt).Truncate(time.Second).String(),
	}

	toolVersion, err := s.runtime.Ping(r.Context())
	if err != nil {
		resp.Status = "unavailable"
		s.respond(w, http.StatusServiceUnavailable, resp)
		return
	}

	resp.Status = "ok"
	resp.Runtime = toolVersion
	s.respond(w, http.StatusOK, resp)
}

// Maps the transport request shape to the orchestrator's.
func toRequest(req startRequest) orchestrator.Request {
	out := orchestrator.Request{
		BundleID:   req.BundleID,
		Platform:   req.Platform,
		RecipePath: req.RecipePath,
		Target:     req.Target,
		BuildArgs:  req.BuildArgs,
		Labels:     req.Labels,
	}
	if req.Push != nil {
		out.Push = &orchestrator.Registry{
			Address:   req.Push.Address,
			Namespace: req.Push.Namespace,
			Username:  req.Push.Username,
			Password:  req.Push.Password,
		}
	}
	return out
}
