package alarm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"

	domain "github.com/oshokin/alarm-processor/internal/domain/alarm"
	"github.com/oshokin/alarm-processor/internal/logger"
)

//nolint:gochecknoglobals // Stateless codec configuration.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxBodyBytes bounds every request body.
const maxBodyBytes = 1 << 20

// Service abstracts the processor operations the transport layer depends on.
type Service interface {
	PutClass(ctx context.Context, name string, c *domain.Class) error
	PutRegistration(ctx context.Context, name domain.Name, reg *domain.Registration) error
	PutActivation(ctx context.Context, name domain.Name, a *domain.Activation) error
	PutOverride(ctx context.Context, key domain.OverrideKey, o *domain.Override) error
	Alarm(name domain.Name) (*domain.EffectiveAlarm, error)
	Overrides(name domain.Name) domain.OverrideSet
	// Reject records an input the transport could not decode.
	Reject(ctx context.Context, source string, err error) error
}

// Server implements the HTTP API.
type Server struct {
	// service provides the processor operations.
	service Service
	// metrics serves the Prometheus exposition, may be nil.
	metrics http.Handler
	// ready reports whether the processor is serving.
	ready func() bool
}

// NewServer wires the provided service implementation into HTTP handlers.
func NewServer(service Service, metrics http.Handler, ready func() bool) *Server {
	if ready == nil {
		ready = func() bool { return true }
	}

	return &Server{
		service: service,
		metrics: metrics,
		ready:   ready,
	}
}

// Router returns the HTTP handler of the API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Put("/classes/{name}", s.handlePutClass)
	r.Delete("/classes/{name}", s.handleDeleteClass)
	r.Put("/registrations/{name}", s.handlePutRegistration)
	r.Delete("/registrations/{name}", s.handleDeleteRegistration)
	r.Put("/activations/{name}", s.handlePutActivation)
	r.Delete("/activations/{name}", s.handleDeleteActivation)

	r.Route("/alarms/{name}", func(r chi.Router) {
		r.Get("/", s.handleGetAlarm)
		r.Get("/overrides", s.handleGetOverrides)
		r.Put("/overrides/{kind}", s.handlePutOverride)
		r.Delete("/overrides/{kind}", s.handleDeleteOverride)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !s.ready() {
		http.Error(w, "not serving", http.StatusServiceUnavailable)

		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handlePutClass(w http.ResponseWriter, r *http.Request) {
	var c domain.Class
	if !s.decode(w, r, "class", &c) {
		return
	}

	s.respond(w, r, s.service.PutClass(r.Context(), urlParam(r, "name"), &c))
}

func (s *Server) handleDeleteClass(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, s.service.PutClass(r.Context(), urlParam(r, "name"), nil))
}

func (s *Server) handlePutRegistration(w http.ResponseWriter, r *http.Request) {
	var reg domain.Registration
	if !s.decode(w, r, "registration", &reg) {
		return
	}

	s.respond(w, r, s.service.PutRegistration(r.Context(), urlParam(r, "name"), &reg))
}

func (s *Server) handleDeleteRegistration(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, s.service.PutRegistration(r.Context(), urlParam(r, "name"), nil))
}

func (s *Server) handlePutActivation(w http.ResponseWriter, r *http.Request) {
	var a domain.Activation
	if !s.decodeOptional(w, r, "activation", &a) {
		return
	}

	s.respond(w, r, s.service.PutActivation(r.Context(), urlParam(r, "name"), &a))
}

func (s *Server) handleDeleteActivation(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, s.service.PutActivation(r.Context(), urlParam(r, "name"), nil))
}

func (s *Server) handleGetAlarm(w http.ResponseWriter, r *http.Request) {
	alarm, err := s.service.Alarm(urlParam(r, "name"))
	if err != nil {
		s.respond(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, alarm)
}

func (s *Server) handleGetOverrides(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Overrides(urlParam(r, "name")))
}

func (s *Server) handlePutOverride(w http.ResponseWriter, r *http.Request) {
	key, ok := s.overrideKey(w, r)
	if !ok {
		return
	}

	o := &domain.Override{Kind: key.Kind}

	var payload any

	switch key.Kind {
	case domain.KindShelved:
		o.Shelved = new(domain.ShelvedOverride)
		payload = o.Shelved
	case domain.KindDisabled:
		o.Disabled = new(domain.DisabledOverride)
		payload = o.Disabled
	case domain.KindFiltered:
		o.Filtered = new(domain.FilteredOverride)
		payload = o.Filtered
	case domain.KindOnDelayed:
		o.OnDelayed = new(domain.DelayedOverride)
		payload = o.OnDelayed
	case domain.KindOffDelayed:
		o.OffDelayed = new(domain.DelayedOverride)
		payload = o.OffDelayed
	case domain.KindMasked, domain.KindLatched:
	}

	if payload != nil && !s.decodeOptional(w, r, "override", payload) {
		return
	}

	s.respond(w, r, s.service.PutOverride(r.Context(), key, o))
}

func (s *Server) handleDeleteOverride(w http.ResponseWriter, r *http.Request) {
	key, ok := s.overrideKey(w, r)
	if !ok {
		return
	}

	s.respond(w, r, s.service.PutOverride(r.Context(), key, nil))
}

func (s *Server) overrideKey(w http.ResponseWriter, r *http.Request) (domain.OverrideKey, bool) {
	kind, err := domain.ParseKind(urlParam(r, "kind"))
	if err != nil {
		s.reject(w, r, "override", err)

		return domain.OverrideKey{}, false
	}

	return domain.OverrideKey{Name: urlParam(r, "name"), Kind: kind}, true
}

// decode reads a required JSON body into v.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, source string, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		s.reject(w, r, source, err)

		return false
	}

	return true
}

// decodeOptional reads a JSON body into v; an empty body leaves v as is.
func (s *Server) decodeOptional(w http.ResponseWriter, r *http.Request, source string, v any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		s.reject(w, r, source, err)

		return false
	}

	return true
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request, source string, err error) {
	err = s.service.Reject(r.Context(), source, fmt.Errorf("%w: %w", domain.ErrMalformed, err))
	http.Error(w, err.Error(), http.StatusBadRequest)
}

// respond maps a service error onto a status code.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, domain.ErrMalformed):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		logger.ErrorKV(r.Context(), "Request failed", "path", r.URL.Path, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func urlParam(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	if unescaped, err := url.PathUnescape(v); err == nil {
		return unescaped
	}

	return v
}
