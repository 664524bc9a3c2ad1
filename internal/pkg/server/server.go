package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/anicoll/gasmeter/internal/pkg/controller"
	"github.com/anicoll/gasmeter/internal/pkg/meter"
	"github.com/anicoll/gasmeter/internal/pkg/model"
	"github.com/anicoll/gasmeter/internal/pkg/panel"
)

type meterController interface {
	Status(ctx context.Context) (controller.Status, error)
	CorrectTo(ctx context.Context, hundredths uint32) (controller.Result, error)
	UpdateConnection(ctx context.Context, u model.ConnectionUpdate) (controller.Status, error)
	RequestRestart(ctx context.Context) error
}

type modeReader interface {
	Mode() panel.Mode
}

type server struct {
	ctrl         meterController
	modes        modeReader
	gatherer     prometheus.Gatherer
	passwordHash string
	logger       *zap.Logger
}

// New builds the HTTP API. modes may be nil when no panel is attached. An empty
// passwordHash leaves the mutating routes open.
func New(ctrl meterController, modes modeReader, gatherer prometheus.Gatherer, passwordHash string) *server {
	return &server{ctrl: ctrl, modes: modes, gatherer: gatherer, passwordHash: passwordHash, logger: zap.L()}
}

func (s *server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/api/status", s.GetStatus)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Group(func(r chi.Router) {
		if s.passwordHash != "" {
			r.Use(BasicAuth(s.passwordHash))
		}
		r.Post("/api/consumption", s.PostConsumption)
		r.Post("/api/mqtt", s.PostMQTT)
		r.Post("/api/restart", s.PostRestart)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (s *server) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.ctrl.Status(r.Context())
	if err != nil {
		s.handleError(w, err)
		return
	}
	mode := panel.ModeMeter
	if s.modes != nil {
		mode = s.modes.Mode()
	}
	respondJSON(w, http.StatusOK, newStatusResponse(st, mode))
}

func (s *server) PostConsumption(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid form")
		return
	}
	if !r.Form.Has("value") {
		respondError(w, http.StatusBadRequest, "value missing")
		return
	}
	v, err := meter.ParseReading(r.Form.Get("value"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.ctrl.CorrectTo(r.Context(), v)
	if err != nil {
		s.handleError(w, err)
		return
	}
	s.logger.Info("meter corrected over http", zap.String("value", meter.FormatHundredths(res.Volume)))
	respondJSON(w, http.StatusOK, consumptionResponse{
		Status:             "ok",
		Value:              meter.ToCubicMeters(v),
		GasVolumeFormatted: meter.FormatHundredths(res.Volume),
		Persisted:          res.Persisted,
		Published:          res.Published,
	})
}

func (s *server) PostMQTT(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid form")
		return
	}
	if !r.Form.Has("server") || !r.Form.Has("port") {
		respondError(w, http.StatusBadRequest, model.ErrServerPortRequired.Error())
		return
	}
	st, err := s.ctrl.UpdateConnection(r.Context(), model.ConnectionUpdate{
		Host:         r.Form.Get("server"),
		Port:         r.Form.Get("port"),
		Username:     r.Form.Get("username"),
		Password:     r.Form.Get("password"),
		ClientID:     r.Form.Get("clientid"),
		TopicBase:    r.Form.Get("topic"),
		TopicCurrent: r.Form.Get("topic_current"),
	})
	if errors.Is(err, model.ErrInvalidInput) || errors.Is(err, model.ErrPortOutOfRange) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, newMQTTResponse(st))
}

func (s *server) PostRestart(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "restarting",
		"message": "Device will restart now",
	})
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	if err := s.ctrl.RequestRestart(r.Context()); err != nil {
		s.logger.Error("restart request failed", zap.Error(err))
	}
}

func (s *server) handleError(w http.ResponseWriter, err error) {
	s.logger.Error("request failed", zap.Error(err))
	if errors.Is(err, controller.ErrStopped) {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

func respondJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, map[string]string{"error": msg})
}
