package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/glintworks/atelier/internal/middleware"
	"github.com/glintworks/atelier/internal/models"
	"github.com/glintworks/atelier/internal/wallet"
)

// WalletService is the subset of wallet operations the handler exposes.
type WalletService interface {
	Balance(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	Ledger(ctx context.Context, userID uuid.UUID, limit int) ([]*models.LedgerEntry, error)
	Purchase(ctx context.Context, userID uuid.UUID, amount int, reference string) (*models.LedgerEntry, error)
	Tip(ctx context.Context, fromID, toID uuid.UUID, amount int) error
}

// WalletHandler serves /v1/wallet endpoints.
type WalletHandler struct {
	Wallet WalletService
	Logger *slog.Logger
}

// --- GET /v1/wallet ---

func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	wlt, err := h.Wallet.Balance(r.Context(), userID)
	if err != nil {
		h.Logger.Error("get wallet", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, wlt)
}

// --- GET /v1/wallet/ledger ---

func (h *WalletHandler) ListLedger(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	entries, err := h.Wallet.Ledger(r.Context(), userID, limit)
	if err != nil {
		h.Logger.Error("list ledger", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*models.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- POST /v1/wallet/purchases ---

type purchaseRequest struct {
	Amount    int    `json:"amount"`
	Reference string `json:"reference"`
}

// ConfirmPurchase records an externally-paid token purchase. The reference
// is the idempotency key: redelivered confirmations are acknowledged
// without crediting twice.
func (h *WalletHandler) ConfirmPurchase(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Amount <= 0 {
		http.Error(w, `{"error":"amount must be > 0"}`, http.StatusBadRequest)
		return
	}
	if req.Reference == "" {
		http.Error(w, `{"error":"reference is required"}`, http.StatusBadRequest)
		return
	}
	entry, err := h.Wallet.Purchase(r.Context(), userID, req.Amount, req.Reference)
	if err != nil {
		h.Logger.Error("confirm purchase", "reference", req.Reference, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if entry == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "already_credited"})
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// --- POST /v1/wallet/tips ---

type tipRequest struct {
	ToUserID string `json:"to_user_id"`
	Amount   int    `json:"amount"`
}

func (h *WalletHandler) SendTip(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromCtx(r.Context())
	if userID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req tipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	toID, err := uuid.Parse(req.ToUserID)
	if err != nil {
		http.Error(w, `{"error":"invalid to_user_id"}`, http.StatusBadRequest)
		return
	}
	if req.Amount <= 0 {
		http.Error(w, `{"error":"amount must be > 0"}`, http.StatusBadRequest)
		return
	}
	if err := h.Wallet.Tip(r.Context(), userID, toID, req.Amount); err != nil {
		switch {
		case errors.Is(err, wallet.ErrInsufficientBalance):
			writeJSON(w, http.StatusPaymentRequired, map[string]string{"reason": "insufficient_balance"})
		case errors.Is(err, wallet.ErrSelfTip):
			http.Error(w, `{"error":"cannot tip yourself"}`, http.StatusBadRequest)
		default:
			h.Logger.Error("send tip", "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}
