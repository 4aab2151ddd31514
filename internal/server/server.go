// Package server exposes the catalog read API over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/geo-catalog/internal/model"
	"github.com/sells-group/geo-catalog/internal/query"
	"github.com/sells-group/geo-catalog/internal/render"
	"github.com/sells-group/geo-catalog/internal/store"
)

// Options configures the HTTP API.
type Options struct {
	AllowedOrigins []string
	// DefaultDistance is the nearby radius used when a request omits it.
	DefaultDistance float64
}

// Server serves /health, /stats, /records and /records/{system}/{id}.
type Server struct {
	store  store.Store
	engine *query.Engine
	opts   Options
	log    *zap.Logger
}

// New creates a Server reading from st through engine.
func New(st store.Store, engine *query.Engine, opts Options) *Server {
	if opts.DefaultDistance <= 0 {
		opts.DefaultDistance = query.DefaultDistance
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Server{
		store:  st,
		engine: engine,
		opts:   opts,
		log:    zap.L().With(zap.String("component", "server")),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Get("/stats", s.stats)
	r.Get("/records", s.records)
	r.Get("/records/{system}/*", s.record)
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.log.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Run(r.Context(), query.Request{Action: query.ActionStats})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Stats)
}

func (s *Server) records(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	format, err := responseFormat(params)
	if err != nil {
		s.fail(w, err)
		return
	}
	req, err := s.parseRequest(params)
	if err != nil {
		s.fail(w, err)
		return
	}

	res, err := s.engine.Run(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	if res.Stats != nil {
		writeJSON(w, http.StatusOK, res.Stats)
		return
	}
	writeHits(w, format, res.Hits)
}

func (s *Server) record(w http.ResponseWriter, r *http.Request) {
	sys, err := model.ParseSystemName(chi.URLParam(r, "system"))
	if err != nil {
		s.fail(w, &query.Error{Field: "system_name", Message: err.Error()})
		return
	}
	id := chi.URLParam(r, "*")
	if v, err := url.PathUnescape(id); err == nil {
		id = v
	}
	id = model.NormalizeID(id)
	format, err := responseFormat(r.URL.Query())
	if err != nil {
		s.fail(w, err)
		return
	}

	hits, err := s.store.ByDatasetID(r.Context(), id, store.Filter{System: sys, Limit: 1})
	if err != nil {
		s.fail(w, err)
		return
	}
	if len(hits) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "record not found"})
		return
	}
	if format == render.FormatGeoJSON {
		writeJSON(w, http.StatusOK, render.FeatureCollection(hits).Features[0])
		return
	}
	writeJSON(w, http.StatusOK, hits[0])
}

// parseRequest maps query parameters onto a query request. Parameter names
// match the query command's flags.
func (s *Server) parseRequest(params url.Values) (query.Request, error) {
	action := params.Get("action")
	if action == "" {
		action = string(query.ActionAll)
	}
	a, err := query.ParseAction(action)
	if err != nil {
		return query.Request{}, err
	}
	req := query.Request{
		Action:    a,
		DatasetID: firstOf(params, "dataset_id", "dataset-id"),
		System:    firstOf(params, "system_name", "system-name"),
		Distance:  s.opts.DefaultDistance,
	}

	floats := []struct {
		name     string
		dst      *float64
		required bool
	}{
		{"west", &req.West, a == query.ActionBox},
		{"east", &req.East, a == query.ActionBox},
		{"south", &req.South, a == query.ActionBox},
		{"north", &req.North, a == query.ActionBox},
		{"lat", &req.Latitude, a == query.ActionNearby},
		{"lng", &req.Longitude, a == query.ActionNearby},
		{"distance", &req.Distance, false},
	}
	for _, f := range floats {
		raw := params.Get(f.name)
		if raw == "" {
			if f.required {
				return req, &query.Error{Field: f.name, Message: "required for action " + string(a)}
			}
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return req, &query.Error{Field: f.name, Message: "not a number: " + strconv.Quote(raw)}
		}
		*f.dst = v
	}

	if raw := params.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return req, &query.Error{Field: "limit", Message: "not an integer: " + strconv.Quote(raw)}
		}
		req.Limit = &n
	}
	return req, nil
}

func responseFormat(params url.Values) (render.Format, error) {
	raw := params.Get("format")
	if raw == "" {
		return render.FormatJSON, nil
	}
	f, err := render.ParseFormat(raw)
	if err != nil || (f != render.FormatJSON && f != render.FormatGeoJSON) {
		return "", &query.Error{Field: "format", Message: "must be json or geojson"}
	}
	return f, nil
}

func firstOf(params url.Values, names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(params.Get(n)); v != "" {
			return v
		}
	}
	return ""
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	var qe *query.Error
	if errors.As(err, &qe) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": qe.Error(), "field": qe.Field})
		return
	}
	s.log.Error("request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func writeHits(w http.ResponseWriter, f render.Format, hits []model.Hit) {
	if f == render.FormatGeoJSON {
		w.Header().Set("Content-Type", "application/geo+json")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	if err := render.Hits(w, f, hits); err != nil {
		zap.L().Warn("server: write response", zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
