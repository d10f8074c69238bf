package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hetu-project/subnet-grader/pkg/apiclient"
	"github.com/hetu-project/subnet-grader/pkg/classifier"
	"github.com/hetu-project/subnet-grader/pkg/crosscheck"
	"github.com/hetu-project/subnet-grader/pkg/grader"
	"github.com/hetu-project/subnet-grader/pkg/graph"
	"github.com/hetu-project/subnet-grader/pkg/postprovider"
	"github.com/hetu-project/subnet-grader/services/validator/config"
	"github.com/hetu-project/subnet-grader/services/validator/handlers"
	"github.com/hetu-project/subnet-grader/services/validator/middleware"
	"github.com/hetu-project/subnet-grader/services/validator/services"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Initialize classifier and grader
	analyzer := classifier.NewHTTPClient(classifier.Config{
		BaseURL: cfg.AnalyzerURL,
		APIKey:  cfg.AnalyzerAPIKey,
		Model:   cfg.AnalyzerModel,
		Timeout: cfg.HTTPTimeout,
		Retry:   cfg.RetryPolicy(),
	}, logger.Named("analyzer"))

	gradeOpts := []grader.Option{
		grader.WithTokenPolicy(cfg.TokenPolicy()),
		grader.WithTolerances(grader.Tolerances{
			Token:     cfg.Grading.TokenTolerance,
			Sentiment: cfg.Grading.SentimentTolerance,
		}),
		grader.WithLogger(logger.Named("grader")),
	}
	if cfg.CrosscheckEnabled {
		checker := crosscheck.New(newPostProvider(cfg, logger), cfg.NewScorer(),
			crosscheck.WithAttempts(cfg.RetryAttempts),
			crosscheck.WithLogger(logger.Named("crosscheck")))
		gradeOpts = append(gradeOpts, grader.WithPostChecker(checker))
	}
	g := grader.New(analyzer, gradeOpts...)

	// 3. Initialize services
	opts := []services.Option{
		services.WithSampleSize(cfg.Grading.SampleSize),
		services.WithLogger(logger.Named("validation")),
	}
	if cfg.ValidatorPrivateKey != nil {
		opts = append(opts, services.WithSigner(cfg.ValidatorPrivateKey))
	}
	if cfg.DgraphURL != "" {
		graphClient, err := graph.NewClient(cfg.DgraphURL, logger.Named("graph"))
		if err != nil {
			logger.Fatal("Failed to connect to Dgraph", zap.Error(err))
		}
		defer graphClient.Close()

		if err := graphClient.SetupSchema(ctx); err != nil {
			logger.Warn("Failed to setup verdict schema", zap.Error(err))
		}
		opts = append(opts, services.WithRecorder(graphClient))
	}

	validationService := services.NewValidationService(g, analyzer, opts...)

	// 4. Initialize handlers
	validationHandler := handlers.NewValidationHandler(validationService, logger.Named("http"))
	healthHandler := handlers.NewHealthHandler(validationService)

	// 5. Setup routes
	limiter := middleware.NewRateLimiter(cfg.RateLimit, cfg.RateWindow)
	router := setupRoutes(validationHandler, healthHandler, limiter)

	// 6. Start server and validation loop
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("Validator server started",
			zap.String("port", cfg.Port),
			zap.String("address", validationService.Address()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.LoopEnabled() {
		loop, closeLoop, err := newValidationLoop(gctx, cfg, validationService, logger)
		if err != nil {
			logger.Fatal("Failed to start validation loop", zap.Error(err))
		}
		defer closeLoop()
		group.Go(func() error {
			return loop.Run(gctx, services.Watermark{})
		})
	}

	// Graceful shutdown
	group.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown Server ...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("Validator exited with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Server exiting")
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	return cfg.Build()
}

func newPostProvider(cfg *config.Config, logger *zap.Logger) postprovider.Provider {
	if cfg.SN13APIKey != "" {
		return postprovider.NewSN13Client(cfg.SN13APIURL, cfg.SN13APIKey, cfg.RetryPolicy(), logger.Named("sn13"))
	}
	return postprovider.NewXClient(cfg.XBaseURL, cfg.XBearerToken, cfg.RetryPolicy(), logger.Named("x"))
}

func newValidationLoop(
	ctx context.Context,
	cfg *config.Config,
	validationService *services.ValidationService,
	logger *zap.Logger,
) (*services.ValidationLoop, func(), error) {
	api := apiclient.NewClient(cfg.APIURL,
		apiclient.WithSigner(cfg.ValidatorPrivateKey),
		apiclient.WithTimeout(cfg.HTTPTimeout),
		apiclient.WithLogger(logger.Named("api")))

	// Without a chain endpoint the loop grades but never applies scores
	var blocks services.BlockSource
	interval := cfg.ScoresBlockInterval
	closeFn := func() {}
	if cfg.ChainRPCURL != "" {
		chain, err := services.NewChainBlockSource(ctx, cfg.ChainRPCURL)
		if err != nil {
			return nil, nil, err
		}
		blocks = chain
		closeFn = chain.Close
	} else {
		logger.Warn("CHAIN_RPC_URL not set, score sync disabled")
		interval = 0
	}

	loop := services.NewValidationLoop(api, blocks, services.NewLoggingScoreSink(logger.Named("scores")),
		validationService, interval, cfg.PollInterval, logger.Named("loop"))
	return loop, closeFn, nil
}

func setupRoutes(
	validationHandler *handlers.ValidationHandler,
	healthHandler *handlers.HealthHandler,
	limiter *middleware.RateLimiter,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// Middleware
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())

	// Health check
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	// API routes
	v1 := router.Group("/api/v1")
	{
		// Grading related, each call reaches the analyzer
		grading := v1.Group("", middleware.RateLimit(limiter))
		grading.POST("/grade", validationHandler.Grade)
		grading.POST("/batch/validate", validationHandler.ValidateBatch)
		v1.GET("/config", validationHandler.GetConfig)
	}

	return router
}
