package http

import (
	"net/http"

	"swiftshop/internal/telemetry"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	Router *chi.Mux
}

func NewServer(handler *Handler) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(telemetry.MetricsMiddleware)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", telemetry.PrometheusHandler())

	r.Route("/payments", func(r chi.Router) {
		r.Post("/initialize", handler.InitializePayment)
		r.Get("/verify/{reference}", handler.VerifyPayment)
	})

	r.Route("/orders", func(r chi.Router) {
		r.Get("/", handler.ListOrders)
		r.Get("/{orderId}", handler.GetOrder)
		r.Patch("/{orderId}/status", handler.SetStatus)
		r.Post("/{orderId}/cancel", handler.CancelOrder)
	})

	return &Server{Router: r}
}
