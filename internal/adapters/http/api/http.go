// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/okian/assignml/internal/adapters/http/swagger"
	service "github.com/okian/assignml/internal/app"
	"github.com/okian/assignml/internal/domain/model"
	"github.com/okian/assignml/internal/domain/trainer"
)

// Request bodies above this size are rejected.
const maxBodyBytes = 1 << 20

// Dependencies required by HTTP handlers. *service.Service satisfies it.
type Dependencies interface {
	Recommend(ctx context.Context, req service.RecommendRequest) (service.RecommendResponse, error)
	SubmitFeedback(ctx context.Context, fb model.Feedback) (model.PredictionLog, error)

	StartTraining(ctx context.Context, req trainer.Request) (string, error)
	CancelTraining() error
	TrainingStatus() trainer.Status
	TrainingHistory(ctx context.Context, page, size, daysBack int) (service.HistoryPage, error)
	FeatureImportance() service.FeatureImportance
	ValidateData(ctx context.Context, months int) (trainer.Report, error)

	PublishEvent(ctx context.Context, rec model.EventRecord) (model.EventRecord, error)
	StatsProvider
}

// Server wires HTTP routes for the business API.
type Server struct {
	deps     Dependencies
	validate *validator.Validate

	healthHandler *HealthHandler
	statsHandler  *StatsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	return &Server{
		deps:          deps,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		healthHandler: NewHealthHandler(),
		statsHandler:  NewStatsHandler(deps),
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(MetricsMiddleware)

	r.Get("/healthz", s.healthHandler.HandleHealth)
	r.Get("/stats", s.statsHandler.HandleStats)
	swagger.Register(r)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/recommendations", s.handleRecommend)
		r.Post("/feedback", s.handleFeedback)
		r.Post("/events", s.handlePostEvent)

		r.Route("/training", func(r chi.Router) {
			r.Post("/", s.handleStartTraining)
			r.Get("/status", s.handleTrainingStatus)
			r.Post("/cancel", s.handleCancelTraining)
			r.Get("/history", s.handleTrainingHistory)
			r.Get("/feature-importance", s.handleFeatureImportance)
			r.Get("/validate", s.handleValidate)
		})
	})
	return r
}

// decode reads a JSON body into dst and validates its tags.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := decodeBody(w, r, dst); err != nil {
		return err
	}
	if err := s.validate.Struct(dst); err != nil {
		return badRequest(err)
	}
	return nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return badRequest(err)
	}
	return nil
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
