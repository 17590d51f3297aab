package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	logger "github.com/sirupsen/logrus"

	"tradeexecutor/src/handler"
)

func StartServer(port string) {
	// Router with middleware
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error("/healthcheck write error")
		}
	})

	// Signal intake
	r.Post("/webhook/{code}", handler.DefaultWebhookIntakeHandler())

	// Trade jobs
	r.Post("/jobs", handler.DefaultCreateJobHandler())
	r.Get("/jobs", handler.DefaultSearchJobsHandler())

	// Positions
	r.Get("/positions", handler.DefaultSearchPositionsHandler())
	r.Patch("/positions/{id}/sltp", handler.DefaultUpdateSLTPHandler())
	r.Patch("/positions/{id}/webhook-lock", handler.DefaultWebhookSellLockHandler())
	r.Post("/positions/{id}/close", handler.DefaultClosePositionHandler())

	// Graceful server
	// Server setup
	addr := ":" + port
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server crashed")
		}
	}()

	// Shutdown on SIGINT or SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), GetConfig().ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
}
