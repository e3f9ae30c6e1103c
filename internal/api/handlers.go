// Package api serves the peer-to-peer sync RPC surface of a domain over
// HTTP on localhost.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	peersync "github.com/hyperengineering/peersync/internal/sync"
	"github.com/hyperengineering/peersync/internal/types"
)

const (
	// MaxPushEntities is the maximum number of entities per push request.
	MaxPushEntities = 1000

	// MaxBodyBytes bounds the size of a push request body.
	MaxBodyBytes = 8 << 20
)

// ErrUnavailable indicates the domain cannot serve sync traffic right now,
// for example because it is shutting down.
var ErrUnavailable = errors.New("service unavailable")

// Service is the domain side of the RPC surface.
type Service interface {
	Identity() types.Identity
	ApplyRemote(ctx context.Context, req *peersync.PushRequest) (*peersync.PushResponse, error)
	Snapshot(ctx context.Context) (*peersync.SnapshotResponse, error)
}

// Handler implements the sync RPC handlers.
type Handler struct {
	apiKey   string
	services map[types.Domain]Service
}

// NewHandler creates a Handler serving the given domain services.
func NewHandler(apiKey string, services ...Service) *Handler {
	h := &Handler{
		apiKey:   apiKey,
		services: make(map[types.Domain]Service, len(services)),
	}
	for _, s := range services {
		h.services[s.Identity().Domain] = s
	}
	return h
}

// ServiceMiddleware resolves the {domain} URL parameter to a service.
func (h *Handler) ServiceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := types.Domain(chi.URLParam(r, "domain"))
		svc, ok := h.services[d]
		if !ok {
			WriteProblem(w, r, http.StatusNotFound, fmt.Sprintf("Domain %q is not served here", d))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithService(r.Context(), svc)))
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "component", "api", "error", err)
	}
}

// Health handles GET /sync/v1/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := peersync.HealthResponse{Status: "healthy"}
	for d, svc := range h.services {
		resp.AppID = svc.Identity().AppID
		resp.Domains = append(resp.Domains, string(d))
	}
	sort.Strings(resp.Domains)
	writeJSON(w, resp)
}

// Identify handles GET /sync/v1/{domain}/identify
func (h *Handler) Identify(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, MustServiceFromContext(r.Context()).Identity())
}

// Snapshot handles GET /sync/v1/{domain}/snapshot
func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	svc := MustServiceFromContext(r.Context())
	snap, err := svc.Snapshot(r.Context())
	if err != nil {
		slog.Error("snapshot failed",
			"component", "api",
			"action", "snapshot_failed",
			"domain", string(svc.Identity().Domain),
			"error", err,
		)
		MapError(w, r, err)
		return
	}
	writeJSON(w, snap)
}

// Push handles POST /sync/v1/{domain}/push
func (h *Handler) Push(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	svc := MustServiceFromContext(r.Context())
	domain := svc.Identity().Domain

	var req peersync.PushRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteProblem(w, r, http.StatusRequestEntityTooLarge, "Push body exceeds limit")
			return
		}
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err))
		return
	}

	if err := validatePushRequest(domain, &req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := svc.ApplyRemote(r.Context(), &req)
	if err != nil {
		slog.Error("push failed",
			"component", "api",
			"action", "sync_push_failed",
			"domain", string(domain),
			"push_id", req.PushID,
			"source_app", req.Source.AppID,
			"error", err,
		)
		MapError(w, r, err)
		return
	}

	writeJSON(w, resp)

	slog.Debug("push handled",
		"component", "api",
		"action", "sync_push",
		"domain", string(domain),
		"push_id", req.PushID,
		"source_app", req.Source.AppID,
		"entities", len(req.Entities),
		"accepted", resp.Accepted,
		"rejected", len(resp.Rejected),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// validatePushRequest checks the structure of a push before any entity is
// reconciled.
func validatePushRequest(d types.Domain, req *peersync.PushRequest) error {
	if req.PushID == "" {
		return errors.New("push_id is required")
	}
	if req.Source.AppID == "" {
		return errors.New("source.app_id is required")
	}
	if req.Source.Domain != "" && req.Source.Domain != d {
		return fmt.Errorf("source domain %q does not match %q", req.Source.Domain, d)
	}
	if len(req.Entities) > MaxPushEntities {
		return fmt.Errorf("push exceeds %d entities", MaxPushEntities)
	}
	for i, e := range req.Entities {
		if e.ID == "" {
			return fmt.Errorf("entities[%d]: id is required", i)
		}
		if e.Domain != "" && e.Domain != d {
			return fmt.Errorf("entities[%d]: domain %q does not match %q", i, e.Domain, d)
		}
	}
	return nil
}
