package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"alcyxob/filemanager/internal/api"
	"alcyxob/filemanager/internal/config"
	"alcyxob/filemanager/internal/filemanager"
	"alcyxob/filemanager/internal/repository/mongo"
	"alcyxob/filemanager/internal/service"
	"alcyxob/filemanager/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// @title File Records API
// @version 1.0
// @description Stores records whose fields reference files in object storage.
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logrus.WithError(err).Fatal("could not load config")
	}
	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	setupLogging(cfg.Log)
	logrus.Info("configuration loaded")

	// --- Database Connection ---
	dbClient, err := mongo.ConnectDB(cfg.Database.URI)
	if err != nil {
		logrus.WithError(err).Fatal("could not connect to MongoDB")
	}
	defer func() {
		logrus.Info("disconnecting MongoDB")
		if err := mongo.DisconnectDB(dbClient); err != nil {
			logrus.WithError(err).Error("failed to disconnect MongoDB")
		}
	}()
	appDB := dbClient.Database(cfg.Database.Name)

	go func() { // Index creation runs in the background
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := mongo.EnsureRecordIndexes(ctx, appDB.Collection("records")); err != nil {
			logrus.WithError(err).Warn("failed to create record indexes")
		}
	}()

	// --- Storage and file manager ---
	fileStorage, err := storage.New(cfg.Storage, cfg.S3)
	if err != nil {
		logrus.WithError(err).Fatal("failed to initialize file storage")
	}
	files := filemanager.New(fileStorage,
		filemanager.WithUploadExpiry(cfg.Files.UploadExpiry),
		filemanager.WithDownloadExpiry(cfg.Files.DownloadExpiry),
		filemanager.WithConcurrency(cfg.Files.MaxConcurrency),
		filemanager.WithLogger(logrus.WithFields(logrus.Fields{
			"component": "filemanager",
			"storage":   cfg.Storage.Driver,
		})),
	)

	// --- Services ---
	recordRepo := mongo.NewMongoRecordRepository(appDB)
	recordService, err := service.NewRecordService(recordRepo, files, cfg.Kinds)
	if err != nil {
		logrus.WithError(err).Fatal("invalid record kind configuration")
	}
	logrus.WithField("kinds", recordService.Kinds()).Info("record kinds registered")

	router := gin.Default() // Includes Logger and Recovery middleware
	api.SetupRoutes(router, cfg.JWT.Secret, recordService)

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logrus.WithField("address", cfg.Server.Address).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("ListenAndServe failed")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("shutting down server")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logrus.WithError(err).Error("server forced to shutdown")
	}

	logrus.Info("server exiting")
}

func setupLogging(cfg config.LogConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logrus.WithError(err).Warnf("unknown log level %q, using info", cfg.Level)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		gin.SetMode(gin.ReleaseMode)
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
