package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quickbite/foodorder/internal/catalog"
	"github.com/quickbite/foodorder/internal/config"
	"github.com/quickbite/foodorder/internal/gateway"
	"github.com/quickbite/foodorder/internal/handler"
	"github.com/quickbite/foodorder/internal/identity"
	"github.com/quickbite/foodorder/internal/order"
	"github.com/quickbite/foodorder/internal/ticket"
)

// NewRouter assembles repositories, services and handlers on top of the
// shared pool.
func NewRouter(pool *pgxpool.Pool, cfg *config.Config) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	tokens := identity.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	identitySvc := identity.NewService(identity.NewRepository(pool), tokens)

	catalogRepo := catalog.NewRepository(pool)
	catalogSvc := catalog.NewService(catalogRepo)

	orderRepo := order.NewRepository(pool)
	issuer := ticket.NewIssuer(orderRepo)

	var gw order.Gateway
	if cfg.Gateway.Enabled() {
		gw = gateway.New(cfg.Gateway)
	}
	orderSvc := order.NewService(orderRepo, catalogRepo, issuer, gw)

	authHandler := handler.NewAuthHandler(identitySvc)
	catalogHandler := handler.NewCatalogHandler(catalogSvc)
	orderHandler := handler.NewOrderHandler(orderSvc)
	paymentHandler := handler.NewPaymentHandler(orderSvc, cfg.Gateway)
	ticketHandler := handler.NewTicketHandler(orderSvc)

	// Public: auth, menu browsing and the signed gateway return.
	authHandler.RegisterRoutes(r)
	catalogHandler.RegisterPublicRoutes(r)
	paymentHandler.RegisterCallbackRoutes(r)

	// Authenticated customers.
	r.Group(func(r chi.Router) {
		r.Use(identity.Authenticate(tokens))
		orderHandler.RegisterRoutes(r)
		paymentHandler.RegisterRoutes(r)
	})

	// Staff.
	r.Group(func(r chi.Router) {
		r.Use(identity.Authenticate(tokens), identity.RequireAdmin)
		catalogHandler.RegisterAdminRoutes(r)
		orderHandler.RegisterAdminRoutes(r)
		paymentHandler.RegisterAdminRoutes(r)
		ticketHandler.RegisterAdminRoutes(r)
	})

	return r
}
