package router

import (
	"net/http"

	"github.com/glintworks/atelier/internal/auth"
	"github.com/glintworks/atelier/internal/handlers"
	"github.com/glintworks/atelier/internal/middleware"
)

// New returns the http.Handler serving the /v1 API.
func New(
	authHandler *auth.Handler,
	creationHandler *handlers.CreationHandler,
	walletHandler *handlers.WalletHandler,
	validator middleware.TokenValidator,
) http.Handler {
	mux := http.NewServeMux()
	authed := middleware.Auth(validator)

	mux.HandleFunc("POST /v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /v1/auth/login", authHandler.Login)

	mux.Handle("POST /v1/creations", authed(http.HandlerFunc(creationHandler.Create)))
	mux.Handle("GET /v1/creations", authed(http.HandlerFunc(creationHandler.List)))
	mux.Handle("GET /v1/creations/{id}", authed(http.HandlerFunc(creationHandler.Get)))
	mux.Handle("POST /v1/creations/{id}/publish", authed(http.HandlerFunc(creationHandler.Publish)))
	mux.Handle("DELETE /v1/creations/{id}", authed(http.HandlerFunc(creationHandler.Delete)))

	// Public read access to published creations.
	mux.HandleFunc("GET /v1/feed", creationHandler.Feed)

	mux.Handle("GET /v1/wallet", authed(http.HandlerFunc(walletHandler.GetWallet)))
	mux.Handle("GET /v1/wallet/ledger", authed(http.HandlerFunc(walletHandler.ListLedger)))
	mux.Handle("POST /v1/wallet/purchases", authed(http.HandlerFunc(walletHandler.ConfirmPurchase)))
	mux.Handle("POST /v1/wallet/tips", authed(http.HandlerFunc(walletHandler.SendTip)))

	return mux
}
