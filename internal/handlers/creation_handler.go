package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/glintworks/atelier/internal/creations"
	"github.com/glintworks/atelier/internal/middleware"
	"github.com/glintworks/atelier/internal/models"
	"github.com/glintworks/atelier/internal/wallet"
)

// Lifecycle is the subset of the creation lifecycle service the handler uses.
type Lifecycle interface {
	CreatePending(ctx context.Context, ownerID uuid.UUID, mediaType, prompt string, cost int) (*models.Creation, error)
	FailAndRefund(ctx context.Context, id uuid.UUID, errorMessage string) error
	Get(ctx context.Context, viewerID, id uuid.UUID) (*models.Creation, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Creation, error)
	Feed(ctx context.Context, limit int) ([]*models.Creation, error)
	Publish(ctx context.Context, ownerID, id uuid.UUID, caption string) (*models.Creation, error)
	Delete(ctx context.Context, ownerID, id uuid.UUID) error
	MediaURL(c *models.Creation) string
}

// Enqueuer schedules the generation task for a new creation.
type Enqueuer interface {
	EnqueueGenerate(ctx context.Context, creationID uuid.UUID) error
}

// BalanceReader reports the caller's balance for the insufficient-funds
// error payload.
type BalanceReader interface {
	Balance(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
}

// CreationHandler serves /v1/creations and /v1/feed.
type CreationHandler struct {
	Lifecycle Lifecycle
	Queue     Enqueuer
	Wallet    BalanceReader
	Logger    *slog.Logger
}

// --- POST /v1/creations ---

type createCreationRequest struct {
	MediaType string `json:"media_type"`
	Prompt    string `json:"prompt"`
	Cost      int    `json:"cost"`
}

type createCreationResponse struct {
	CreationID string `json:"creation_id"`
	Status     string `json:"status"`
}

// Create handles the submission: atomic debit+pending record, then enqueue.
// If enqueueing fails, the creation is synchronously failed and refunded so
// the user is never charged for a task nothing will ever process.
func (h *CreationHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req createCreationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if !models.ValidMediaType(req.MediaType) {
		http.Error(w, `{"error":"media_type must be image or video"}`, http.StatusBadRequest)
		return
	}
	if req.Prompt == "" {
		http.Error(w, `{"error":"prompt is required"}`, http.StatusBadRequest)
		return
	}
	if req.Cost <= 0 {
		http.Error(w, `{"error":"cost must be > 0"}`, http.StatusBadRequest)
		return
	}

	c, err := h.Lifecycle.CreatePending(r.Context(), userID, req.MediaType, req.Prompt, req.Cost)
	if err != nil {
		if errors.Is(err, wallet.ErrInsufficientBalance) {
			balance := 0
			if wlt, werr := h.Wallet.Balance(r.Context(), userID); werr == nil {
				balance = wlt.Balance
			}
			writeJSON(w, http.StatusPaymentRequired, map[string]any{
				"reason":  "insufficient_balance",
				"balance": balance,
			})
			return
		}
		h.Logger.Error("create pending", "error", err)
		http.Error(w, `{"error":"failed to create"}`, http.StatusInternalServerError)
		return
	}

	if err := h.Queue.EnqueueGenerate(r.Context(), c.ID); err != nil {
		h.Logger.Error("enqueue failed, refunding", "creation_id", c.ID, "error", err)
		if ferr := h.Lifecycle.FailAndRefund(r.Context(), c.ID, "queue unavailable"); ferr != nil {
			// The sweeper will eventually converge this creation; the user
			// still sees the failure immediately.
			h.Logger.Error("synchronous refund failed", "creation_id", c.ID, "error", ferr)
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"reason": "queue_unavailable",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, createCreationResponse{
		CreationID: c.ID.String(),
		Status:     c.Status,
	})
}

// --- GET /v1/creations/{id} ---

type creationResponse struct {
	*models.Creation
	MediaURL string `json:"media_url,omitempty"`
}

func (h *CreationHandler) present(c *models.Creation) creationResponse {
	return creationResponse{Creation: c, MediaURL: h.Lifecycle.MediaURL(c)}
}

func (h *CreationHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid creation id"}`, http.StatusBadRequest)
		return
	}
	c, err := h.Lifecycle.Get(r.Context(), userID, id)
	if err != nil {
		if errors.Is(err, creations.ErrNotFound) {
			http.Error(w, `{"error":"creation not found"}`, http.StatusNotFound)
			return
		}
		h.Logger.Error("get creation", "creation_id", id, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, h.present(c))
}

// --- GET /v1/creations ---

func (h *CreationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	list, err := h.Lifecycle.ListByOwner(r.Context(), userID)
	if err != nil {
		h.Logger.Error("list creations", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, h.presentAll(list))
}

// --- POST /v1/creations/{id}/publish ---

type publishRequest struct {
	Caption string `json:"caption"`
}

func (h *CreationHandler) Publish(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid creation id"}`, http.StatusBadRequest)
		return
	}
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	c, err := h.Lifecycle.Publish(r.Context(), userID, id, req.Caption)
	if err != nil {
		switch {
		case errors.Is(err, creations.ErrNotFound):
			http.Error(w, `{"error":"creation not found"}`, http.StatusNotFound)
		case errors.Is(err, creations.ErrInvalidState):
			writeJSON(w, http.StatusConflict, map[string]string{"error": "only drafts can be published"})
		default:
			h.Logger.Error("publish creation", "creation_id", id, "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, h.present(c))
}

// --- DELETE /v1/creations/{id} ---

func (h *CreationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid creation id"}`, http.StatusBadRequest)
		return
	}
	if err := h.Lifecycle.Delete(r.Context(), userID, id); err != nil {
		switch {
		case errors.Is(err, creations.ErrNotFound):
			http.Error(w, `{"error":"creation not found"}`, http.StatusNotFound)
		case errors.Is(err, creations.ErrInvalidState):
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": "creations can only be deleted from draft or failed state",
			})
		default:
			h.Logger.Error("delete creation", "creation_id", id, "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- GET /v1/feed ---

func (h *CreationHandler) Feed(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	list, err := h.Lifecycle.Feed(r.Context(), limit)
	if err != nil {
		h.Logger.Error("feed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, h.presentAll(list))
}

func (h *CreationHandler) presentAll(list []*models.Creation) []creationResponse {
	out := make([]creationResponse, 0, len(list))
	for _, c := range list {
		out = append(out, h.present(c))
	}
	return out
}
