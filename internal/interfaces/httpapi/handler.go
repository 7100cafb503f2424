package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/grandarena/contest-api/internal/feed"
	"github.com/grandarena/contest-api/internal/usecase"
)

type Handler struct {
	insights    *usecase.InsightsService
	coordinator *feed.Coordinator
	logger      *slog.Logger
	validator   *validator.Validate
}

func NewHandler(
	insights *usecase.InsightsService,
	coordinator *feed.Coordinator,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		insights:    insights,
		coordinator: coordinator,
		logger:      logger,
		validator:   validator.New(),
	}
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.Healthz")
	defer span.End()

	writeSuccess(ctx, w, http.StatusOK, h.coordinator.HealthInfo())
}
