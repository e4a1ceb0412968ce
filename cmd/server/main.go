package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/remi2ai/api/handlers"
	"github.com/feichai0017/remi2ai/api/routes"
	"github.com/feichai0017/remi2ai/config"
	"github.com/feichai0017/remi2ai/internal/service/invoice"
	"github.com/feichai0017/remi2ai/internal/session"
	"github.com/feichai0017/remi2ai/pkg/logger"
)

func main() {
	appCfg := config.GetAppConfig()
	googleCfg := config.GetGoogleConfig()

	// init logger
	log, err := logger.NewLogger(
		logger.WithLevel(appCfg.LogLevel),
		logger.WithEncoding(appCfg.LogEncoding),
		logger.WithOutputPaths([]string{"stdout", "logs/app.log"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// init invoice service
	initCtx, initCancel := context.WithTimeout(context.Background(), 10*time.Second)
	rt, err := invoice.GetService(initCtx, log)
	initCancel()
	if err != nil {
		log.Fatal("Failed to get invoice service", logger.Error(err))
	}
	defer rt.Close()

	// init handlers
	h := handlers.NewHandlers(handlers.Deps{
		Sessions:     rt.Sessions,
		OAuth:        session.NewOAuth(googleCfg),
		PostLoginURL: googleCfg.PostLoginURL,
		Staging:      rt.Staging,
		Invoices:     rt.Service,
		Events:       rt.Progress,
	}, log)

	r := gin.New()
	r.Use(gin.Recovery())
	r.MaxMultipartMemory = appCfg.MaxFileSize * int64(appCfg.MaxFiles)
	routes.SetupRoutes(r, h, routes.Options{
		AllowedOrigins: appCfg.AllowedOrigins,
		NewSessionID:   rt.Sessions.NewID,
		SecureCookies:  strings.HasPrefix(googleCfg.RedirectURL, "https://"),
		Logger:         log.Named("http"),
	})

	srv := &http.Server{
		Addr:    appCfg.ServerAddr,
		Handler: r,
	}

	// start server
	go func() {
		log.Info("Server starting", logger.String("addr", appCfg.ServerAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logger.Error(err))
		}
	}()

	// wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
	}
}
