package meet

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	config "github.com/meetloop/backend/config/meeting"
	"github.com/meetloop/backend/gateways/meet/handler"
	"github.com/meetloop/backend/services/meeting/usecase"
)

type Server struct {
	cfg      *config.Config
	log      *slog.Logger
	handler  *handler.Handler
	gatherer prometheus.Gatherer
}

func New(cfg *config.Config, usc usecase.Usecase, gatherer prometheus.Gatherer, log *slog.Logger) *Server {
	log.Debug("creating meet server", slog.Int("port", cfg.Port))
	return &Server{
		cfg:      cfg,
		log:      log,
		handler:  handler.New(usc, log),
		gatherer: gatherer,
	}
}

// Start serves HTTP until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	router := chi.NewRouter()
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.handler.RegisterRoutes(router)
	router.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.log.Info("meet gateway started", slog.String("address", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		s.log.Error("server error received", slog.String("error", err.Error()))
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		s.log.Info("closing server due to context cancellation")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("graceful shutdown failed", slog.String("error", err.Error()))
			srv.Close()
			return fmt.Errorf("failed to gracefully shutdown server: %w", err)
		}
		s.log.Info("server shutdown completed")
	}

	return nil
}
