package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"medtriage/medtriage/agents/core"
	"medtriage/medtriage/config"
	"medtriage/medtriage/controllers"
	"medtriage/medtriage/middlewares"
	"medtriage/medtriage/routes"
	"medtriage/medtriage/services/facilities"
	"medtriage/medtriage/services/guidelines"
	"medtriage/medtriage/services/llm"
	"medtriage/medtriage/services/severity"
	"medtriage/medtriage/services/vision"
	"medtriage/medtriage/sources/psql"
	"medtriage/medtriage/sources/psql/dao"
	"medtriage/medtriage/sources/storage"
	"medtriage/medtriage/stream"
	"medtriage/medtriage/triage/intent"
	"medtriage/medtriage/utils/logging"
)

func main() {
	logging.InitLogger()
	cfg := config.LoadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := psql.NewDatabase(ctx, cfg)
	if err != nil {
		logging.ErrorLogger.Error("database connection error", zap.Error(err))
		os.Exit(1)
	}
	defer db.Close()
	convDAO := dao.NewConversationDAO(db.DB)

	vocab, err := intent.LoadVocabulary(cfg.VocabularyPath)
	if err != nil {
		logging.ErrorLogger.Error("vocabulary load error", zap.Error(err))
		os.Exit(1)
	}
	classifier := intent.NewRuleClassifier(vocab, cfg.KeywordDensityThreshold)

	kb := guidelines.NewHTTPKnowledgeBase(cfg.KnowledgeBaseURL)
	orchestrator := core.NewOrchestrator(classifier, vocab, core.Collaborators{
		Generator: llm.NewOllamaClient(cfg.LLMBaseURL, cfg.LLMModel),
		Vision:    vision.NewHTTPAnalyzer(cfg.VisionBaseURL),
		Severity:  severity.NewHTTPEngine(cfg.SeverityBaseURL),
		Retriever: guidelines.NewChainRetriever(kb, vocab, cfg.VectorMatchThreshold),
	}, core.Options{ImageConfidenceThreshold: cfg.ImageConfidenceThreshold})

	broadcaster := stream.NewBroadcaster(stream.Config{
		RateCeiling:   cfg.StreamRateCeiling,
		IdleTimeout:   cfg.StreamIdleTimeout,
		SweepInterval: cfg.StreamSweepInterval,
	})
	broadcaster.Start()
	defer broadcaster.Stop()

	// Image archiving is optional: without object storage the workflow still
	// runs, requests just keep the original image URL only.
	images, err := storage.NewImageStore(cfg)
	if err != nil {
		logging.ErrorLogger.Error("image store unavailable", zap.Error(err))
		images = nil
	}

	locator := facilities.NewHTTPLocator(cfg.FacilitiesBaseURL)
	triageCtrl := controllers.NewTriageController(convDAO, orchestrator, broadcaster, images, locator, cfg)
	healthCtrl := controllers.NewHealthController()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middlewares.RequestLogging)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Mount("/health", routes.HealthRoutes(healthCtrl))
	r.Mount("/triage", routes.TriageRoutes(triageCtrl, broadcaster, cfg))

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: r,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.ErrorLogger.Error("server listen error", zap.Error(err))
		}
	}()
	logging.AppLogger.Info("server started", zap.String("addr", cfg.Addr))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.ErrorLogger.Error("server shutdown error", zap.Error(err))
	}
	logging.AppLogger.Info("server shutdown complete")
}
