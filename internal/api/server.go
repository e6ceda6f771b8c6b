package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"comfyforge/internal/keys"
	"comfyforge/internal/logging"
	"comfyforge/internal/providers"
	"comfyforge/internal/runs"
	"comfyforge/internal/services"
)

const (
	maxBodyBytes     = 32 << 20
	defaultListLimit = 50
)

// KeyStore is the key registry surface the API manages.
type KeyStore interface {
	Register(ctx context.Context, reg keys.Registration) (*keys.Key, error)
	Get(ctx context.Context, id int64) (*keys.Key, error)
	List(ctx context.Context, filter keys.Filter) ([]*keys.Key, error)
	Update(ctx context.Context, id int64, patch keys.Patch) (*keys.Key, error)
	SetActive(ctx context.Context, id int64, active bool) (*keys.Key, error)
}

// RunService submits and polls pipeline runs.
type RunService interface {
	Submit(ctx context.Context, sub runs.Submission) (*runs.Record, error)
	Get(ctx context.Context, id string) (*runs.Record, error)
	List(ctx context.Context, limit int) ([]*runs.Record, error)
}

// KeyChecker runs one on-demand validation probe.
type KeyChecker interface {
	Check(ctx context.Context, id int64) (*keys.Key, providers.Validation, error)
}

// Catalog resolves provider names to adapters.
type Catalog interface {
	Lookup(name string) (providers.Adapter, bool)
	Names() []string
}

// Deps lists the collaborators behind the HTTP handlers.
type Deps struct {
	Keys      KeyStore
	Runs      RunService
	Checker   KeyChecker
	Providers Catalog
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	Token   string
	Logger  *slog.Logger
}

// Server holds handler state.
type Server struct {
	keys      KeyStore
	runs      RunService
	checker   KeyChecker
	providers Catalog
	metrics   http.Handler
	token     string
	logger    *slog.Logger
}

// NewServer constructs a Server from deps.
func NewServer(deps Deps) *Server {
	return &Server{
		keys:      deps.Keys,
		runs:      deps.Runs,
		checker:   deps.Checker,
		providers: deps.Providers,
		metrics:   deps.Metrics,
		token:     strings.TrimSpace(deps.Token),
		logger:    logging.NewComponentLogger(deps.Logger, "api-server"),
	}
}

// Handler builds the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(correlation)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(s.token))
		if s.metrics != nil {
			r.Method(http.MethodGet, "/metrics", s.metrics)
		}
		r.Route("/api", func(r chi.Router) {
			r.Post("/pipelines", s.handleSubmit)
			r.Get("/runs", s.handleListRuns)
			r.Get("/runs/{id}", s.handleGetRun)

			r.Get("/keys", s.handleListKeys)
			r.Post("/keys", s.handleRegisterKey)
			r.Route("/keys/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetKey)
				r.Put("/", s.handleUpdateKey)
				r.Post("/check", s.handleCheckKey)
				r.Post("/enable", s.handleSetActive(true))
				r.Post("/disable", s.handleSetActive(false))
			})

			r.Get("/providers", s.handleProviders)
		})
	})
	return r
}

func correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := services.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.writeError(w, r, services.Wrap(services.ErrConfiguration, "api", "submit", "run service unavailable", nil))
		return
	}
	var req SubmitRequest
	if !s.decode(w, r, &req) {
		return
	}
	record, err := s.runs.Submit(r.Context(), runs.Submission{Definition: req.Definition(), Sync: req.Sync})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusAccepted
	if req.Sync {
		status = http.StatusOK
	}
	s.writeJSON(w, status, record)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.writeJSON(w, http.StatusOK, RunListResponse{Runs: nil})
		return
	}
	limit := defaultListLimit
	if value := strings.TrimSpace(r.URL.Query().Get("limit")); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "list runs", "limit must be a positive integer", nil))
			return
		}
		limit = parsed
	}
	records, err := s.runs.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, RunListResponse{Runs: records})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.writeError(w, r, services.Wrap(services.ErrNotFound, "api", "get run", "run not found", nil))
		return
	}
	record, err := s.runs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := keys.Filter{Provider: s.canonicalProvider(query.Get("provider"))}
	if value := strings.TrimSpace(query.Get("active")); value != "" {
		active, err := strconv.ParseBool(value)
		if err != nil {
			s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "list keys", "active must be true or false", nil))
			return
		}
		filter.Active = &active
	}
	list, err := s.keys.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, KeyListResponse{Keys: FromKeys(list)})
}

func (s *Server) handleRegisterKey(w http.ResponseWriter, r *http.Request) {
	var reg keys.Registration
	if !s.decode(w, r, &reg) {
		return
	}
	if s.providers != nil {
		adapter, ok := s.providers.Lookup(reg.Provider)
		if !ok {
			s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "register key",
				"unknown provider "+strconv.Quote(reg.Provider), nil))
			return
		}
		reg.Provider = adapter.Name()
	}
	key, err := s.keys.Register(r.Context(), reg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	logging.WithContext(r.Context(), s.logger).Info("key registered",
		logging.Int64(logging.FieldKeyID, key.ID),
		logging.String(logging.FieldProvider, key.Provider),
	)
	s.writeJSON(w, http.StatusCreated, FromKey(key))
}

func (s *Server) handleGetKey(w http.ResponseWriter, r *http.Request) {
	id, ok := s.keyID(w, r)
	if !ok {
		return
	}
	key, err := s.keys.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if key == nil {
		s.writeError(w, r, services.Wrap(services.ErrNotFound, "api", "get key", "key "+strconv.FormatInt(id, 10), nil))
		return
	}
	s.writeJSON(w, http.StatusOK, FromKey(key))
}

func (s *Server) handleUpdateKey(w http.ResponseWriter, r *http.Request) {
	id, ok := s.keyID(w, r)
	if !ok {
		return
	}
	var patch keys.Patch
	if !s.decode(w, r, &patch) {
		return
	}
	key, err := s.keys.Update(r.Context(), id, patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, FromKey(key))
}

func (s *Server) handleCheckKey(w http.ResponseWriter, r *http.Request) {
	id, ok := s.keyID(w, r)
	if !ok {
		return
	}
	if s.checker == nil {
		s.writeError(w, r, services.Wrap(services.ErrConfiguration, "api", "check key", "health checks unavailable", nil))
		return
	}
	key, validation, err := s.checker.Check(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, CheckResponse{
		Key:            FromKey(key),
		Valid:          validation.Valid,
		QuotaRemaining: validation.QuotaRemaining,
		Message:        validation.Message,
	})
}

func (s *Server) handleSetActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.keyID(w, r)
		if !ok {
			return
		}
		key, err := s.keys.SetActive(r.Context(), id, active)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		logging.WithContext(r.Context(), s.logger).Info("key state changed",
			logging.Int64(logging.FieldKeyID, key.ID),
			logging.Bool("active", key.Active),
		)
		s.writeJSON(w, http.StatusOK, FromKey(key))
	}
}

func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	resp := ProviderListResponse{Providers: []ProviderInfo{}}
	if s.providers != nil {
		for _, name := range s.providers.Names() {
			adapter, ok := s.providers.Lookup(name)
			if !ok {
				continue
			}
			_, validates := providers.ValidatorFor(adapter)
			resp.Providers = append(resp.Providers, ProviderInfo{Name: adapter.Name(), Validates: validates})
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) canonicalProvider(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || s.providers == nil {
		return name
	}
	if adapter, ok := s.providers.Lookup(name); ok {
		return adapter.Name()
	}
	return name
}

func (s *Server) keyID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "parse key id", "invalid key id", nil))
		return 0, false
	}
	return id, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "decode", "invalid request body", err))
		return false
	}
	return true
}

// statusFor maps an error classification onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrConfiguration):
		return http.StatusUnprocessableEntity
	case errors.Is(err, runs.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, services.ErrProbe), errors.Is(err, services.ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	logger := logging.WithContext(r.Context(), s.logger)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logger, "request failed", "api_error",
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
			logging.String(logging.FieldErrorKind, services.Kind(err)),
			logging.Error(err),
		)
	} else {
		logger.Debug("request rejected",
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
			logging.Error(err),
		)
	}
	s.writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: services.Kind(err)})
}
