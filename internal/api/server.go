// Package api exposes the orchestrator's HTTP control surface: regeneration,
// registry and schedule reads, custom activity insertion, catalog and user
// lookups, plus the websocket mount and the dashboard.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/signalsfoundry/groundlink/internal/engine"
	"github.com/signalsfoundry/groundlink/internal/logging"
	"github.com/signalsfoundry/groundlink/internal/registry"
	"github.com/signalsfoundry/groundlink/model"
)

// Orchestrator is the engine surface the API drives.
type Orchestrator interface {
	Regenerate(ctx context.Context) error
	InsertCustomTrack(ctx context.Context, act *model.Activity) (*model.Activity, error)
}

// FleetReader serves registry snapshots.
type FleetReader interface {
	Snapshot() []*model.FieldUnit
}

// ScheduleReader serves per-unit activity lists.
type ScheduleReader interface {
	ForFU(fuID string) []*model.Activity
}

// CatalogReader serves the satellite catalog.
type CatalogReader interface {
	Catalog() model.TLESet
	Lookup(name string) (model.TLE, bool)
}

// UserSource serves the cached user list.
type UserSource interface {
	Users() json.RawMessage
}

// Config carries the server's collaborators and mounts.
type Config struct {
	Orchestrator Orchestrator
	Fleet        FleetReader
	Schedule     ScheduleReader
	Catalog      CatalogReader
	Users        UserSource

	WSHandler      http.Handler
	MetricsHandler http.Handler
	Middleware     func(http.Handler) http.Handler
	StaticDir      string
	Logger         logging.Logger
}

// Server wires the control surface routes.
type Server struct {
	cfg Config
	log logging.Logger
}

// NewServer constructs the server.
func NewServer(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = logging.Noop()
	}
	return &Server{cfg: cfg, log: log}
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type activityCreated struct {
	ActivityID string `json:"activity_id"`
}

type satelliteSummary struct {
	Name    string `json:"name"`
	NoradID string `json:"norad_id"`
}

// createActivityRequest is the POST /api/activities body.
type createActivityRequest struct {
	FUID        string `json:"fu_id"`
	SatelliteID string `json:"satellite_id"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
}

// Router builds the chi router with the standard middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	if s.cfg.Middleware != nil {
		r.Use(s.cfg.Middleware)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/regenerate", s.handleRegenerate)
		r.Get("/registry", s.handleRegistry)
		r.Post("/activities", s.handleCreateActivity)
		r.Get("/schedule/{fuID}", s.handleSchedule)
		r.Get("/satellites", s.handleSatellites)
		r.Get("/tle", s.handleTLE)
		r.Get("/users", s.handleUsers)
	})

	if s.cfg.WSHandler != nil {
		r.Handle("/ws", s.cfg.WSHandler)
	}
	if s.cfg.MetricsHandler != nil {
		r.Handle("/metrics", s.cfg.MetricsHandler)
	}
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, statusResponse{Status: "ok"})
	})
	if s.cfg.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.cfg.StaticDir)))
	}

	return r
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	ctx, log := logging.WithRequestLogger(r.Context(), s.log)

	err := s.cfg.Orchestrator.Regenerate(ctx)
	switch {
	case err == nil:
		render.Status(r, http.StatusAccepted)
		render.JSON(w, r, statusResponse{Status: "ok"})
	case errors.Is(err, engine.ErrRegenerationBusy):
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, statusResponse{Status: "busy"})
	default:
		log.Error(ctx, "schedule regeneration failed", logging.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, statusResponse{Status: "error", Error: err.Error()})
	}
}

func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.cfg.Fleet.Snapshot())
}

func (s *Server) handleCreateActivity(w http.ResponseWriter, r *http.Request) {
	ctx, log := logging.WithRequestLogger(r.Context(), s.log)

	var req createActivityRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, statusResponse{Status: "error", Error: "invalid request body"})
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, statusResponse{Status: "error", Error: "start_time must be RFC 3339"})
		return
	}
	end, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, statusResponse{Status: "error", Error: "end_time must be RFC 3339"})
		return
	}

	act := &model.Activity{
		FUID:      req.FUID,
		Satellite: req.SatelliteID,
		Start:     start.UTC(),
		End:       end.UTC(),
		Kind:      model.KindCustomTrack,
	}
	if s.cfg.Catalog != nil {
		if tle, ok := s.cfg.Catalog.Lookup(req.SatelliteID); ok {
			act.NoradID = tle.NoradID
		}
	}

	created, err := s.cfg.Orchestrator.InsertCustomTrack(ctx, act)
	switch {
	case err == nil:
		log.Info(ctx, "custom activity created",
			logging.String("activity_id", created.ID),
			logging.String("fu_id", created.FUID),
		)
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, activityCreated{ActivityID: created.ID})
	case errors.Is(err, registry.ErrUnknownFieldUnit):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, statusResponse{Status: "error", Error: err.Error()})
	case errors.Is(err, model.ErrInvalidActivity):
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, statusResponse{Status: "error", Error: err.Error()})
	default:
		log.Error(ctx, "custom activity insert failed", logging.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, statusResponse{Status: "error", Error: err.Error()})
	}
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	fuID := chi.URLParam(r, "fuID")
	acts := s.cfg.Schedule.ForFU(fuID)
	if acts == nil {
		acts = []*model.Activity{}
	}
	render.JSON(w, r, acts)
}

func (s *Server) handleSatellites(w http.ResponseWriter, r *http.Request) {
	catalog := s.cfg.Catalog.Catalog()
	out := make([]satelliteSummary, 0, len(catalog))
	for _, name := range catalog.Names() {
		out = append(out, satelliteSummary{Name: name, NoradID: catalog[name].NoradID})
	}
	render.JSON(w, r, out)
}

func (s *Server) handleTLE(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, statusResponse{Status: "error", Error: "name query parameter required"})
		return
	}
	tle, ok := s.cfg.Catalog.Lookup(name)
	if !ok {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, statusResponse{Status: "error", Error: "unknown satellite"})
		return
	}
	render.JSON(w, r, tle)
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(s.cfg.Users.Users())
}
