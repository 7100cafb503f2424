package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	sonic "github.com/bytedance/sonic"
	"github.com/grandarena/contest-api/internal/usecase"
)

func (h *Handler) ListUpcomingMatches(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.ListUpcomingMatches")
	defer span.End()

	upcoming, err := h.insights.UpcomingMatches(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "list upcoming matches failed", "error", err)
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, upcoming)
}

func (h *Handler) ListChampions(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.ListChampions")
	defer span.End()

	champions, err := h.insights.Champions(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "list champions failed", "error", err)
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, champions)
}

func (h *Handler) GetChampion(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.GetChampion")
	defer span.End()

	tokenID, err := parseTokenID(r.PathValue("tokenID"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	overview, err := h.insights.Champion(ctx, tokenID)
	if err != nil {
		h.logger.ErrorContext(ctx, "get champion failed", "token_id", tokenID, "error", err)
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, overview)
}

func (h *Handler) GetChampionForm(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.GetChampionForm")
	defer span.End()

	tokenID, err := parseTokenID(r.PathValue("tokenID"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	form, err := h.insights.Form(ctx, tokenID)
	if err != nil {
		h.logger.ErrorContext(ctx, "get champion form failed", "token_id", tokenID, "error", err)
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, form)
}

type evaluateHistoryRequest struct {
	TokenIDs []int64 `json:"token_ids" validate:"required,min=1,max=100,dive,gt=0"`
}

func (h *Handler) EvaluateHistory(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.EvaluateHistory")
	defer span.End()

	var req evaluateHistoryRequest
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(ctx, w, fmt.Errorf("%w: decode request body: %v", usecase.ErrInvalidInput, err))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(ctx, w, fmt.Errorf("%w: %v", usecase.ErrInvalidInput, err))
		return
	}

	forms, err := h.insights.EvaluateHistory(ctx, req.TokenIDs)
	if err != nil {
		h.logger.ErrorContext(ctx, "evaluate history failed", "tokens", len(req.TokenIDs), "error", err)
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, forms)
}

func (h *Handler) ListClassChanges(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.ListClassChanges")
	defer span.End()

	changes, err := h.insights.ClassChanges(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "list class changes failed", "error", err)
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, changes)
}

func (h *Handler) RefreshFeed(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.RefreshFeed")
	defer span.End()

	if err := h.coordinator.ForceRefresh(ctx); err != nil {
		h.logger.ErrorContext(ctx, "forced refresh failed", "error", err)
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, h.coordinator.HealthInfo())
}

func parseTokenID(raw string) (int64, error) {
	tokenID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || tokenID <= 0 {
		return 0, fmt.Errorf("%w: token id must be a positive integer", usecase.ErrInvalidInput)
	}
	return tokenID, nil
}
