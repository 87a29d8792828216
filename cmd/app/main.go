package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	cfgpkg "github.com/local/examextract/internal/config"
	"github.com/local/examextract/internal/detect"
	"github.com/local/examextract/internal/document"
	"github.com/local/examextract/internal/limiter"
	logpkg "github.com/local/examextract/internal/logger"
	"github.com/local/examextract/internal/metrics"
	"github.com/local/examextract/internal/ocr"
	"github.com/local/examextract/internal/pageimage"
	"github.com/local/examextract/internal/preprocess"
	"github.com/local/examextract/internal/queue"
	"github.com/local/examextract/internal/review"
	"github.com/local/examextract/internal/server"
	"github.com/local/examextract/internal/statuscheck"
	"github.com/local/examextract/internal/storage"
	"github.com/local/examextract/internal/store"
	web "github.com/local/examextract/internal/web"
)

func main() {
	_ = godotenv.Load()
	cfg := cfgpkg.FromEnv()

	// Init logging
	_ = logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	})
	defer logpkg.Close()

	metrics.Init()

	// Stores
	regions, err := store.NewRegionStore(cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init region store")
	}
	defer regions.Close()

	statuses, err := store.NewPageStatusStore(cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init page status store")
	}
	defer statuses.Close()

	questions, err := store.NewQuestionStore(cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init question store")
	}
	defer questions.Close()

	// Specialist queue for unsupported pages
	sq, err := queue.NewSpecialistQueue(cfg.Redis.URL, cfg.Redis.Stream, cfg.Redis.Group, cfg.Redis.PollInterval)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init specialist queue")
	}
	defer sq.Close()

	// Engine circuit breaker
	breaker, err := limiter.New(limiter.Options{
		RedisURL:    cfg.Redis.URL,
		MaxInflight: cfg.Engines.MaxInflight,
		BaseBackoff: cfg.Engines.BreakerBase,
		MaxBackoff:  cfg.Engines.BreakerMax,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init engine breaker")
	}
	defer breaker.CloseClient()

	// Exam paper archive (optional)
	var s3client *storage.S3Client
	if cfg.S3.Bucket != "" {
		s3client, err = storage.NewS3Client(context.Background(), storage.Options{
			Bucket:         cfg.S3.Bucket,
			Region:         cfg.S3.Region,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ExportPassword: cfg.S3.ExportPassword,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init s3 client")
		}
	}

	var archive document.Archive
	if s3client != nil {
		archive = s3client
	}
	docs := document.NewManager(archive, cfg.S3.ArchivePassword)
	defer docs.Close()

	renderer := pageimage.NewRenderer(cfg.Review.PageCacheEntries)
	docs.SetRenderCache(renderer)

	// OCR chain: vision primary, tesseract fallback
	vision := ocr.NewVisionEngine(ocr.VisionOptions{
		APIKey:     cfg.Engines.VisionAPIKey,
		Model:      cfg.Engines.VisionModel,
		Endpoint:   cfg.Engines.VisionEndpoint,
		Confidence: cfg.Engines.VisionConfidence,
	})
	tess := ocr.NewTesseractEngine(cfg.Engines.TesseractLangs...)
	adapter := ocr.NewAdapter(ocr.Config{
		Weights: ocr.Weights{
			Confidence: cfg.Engines.ConfidenceWeight,
			Quality:    cfg.Engines.QualityWeight,
			LatencyTie: cfg.Engines.LatencyTieBreak,
		},
		FallbackPenalty: cfg.Engines.FallbackPenalty,
		EngineTimeout:   cfg.Engines.EngineTimeout,
	}, breaker, vision, tess)

	detector := detect.NewClient(cfg.Detect.BaseURL, cfg.Detect.Timeout, cfg.Detect.ConfidenceThreshold)

	deps := review.Dependencies{
		Regions:   regions,
		Statuses:  statuses,
		Questions: questions,
		Detector:  detector,
		Documents: docs,
		Renderer:  renderer,
		Preprocess: preprocess.New(preprocess.Config{
			TargetDPI:        cfg.Preprocess.TargetDPI,
			SkewThresholdDeg: cfg.Preprocess.SkewThresholdDeg,
			NoiseThreshold:   cfg.Preprocess.NoiseThreshold,
			ContrastStdDev:   cfg.Preprocess.ContrastStdDev,
			MaxUpscale:       cfg.Preprocess.MaxUpscale,
		}),
		OCR:   adapter,
		Queue: sq,
	}
	if s3client != nil {
		deps.Exporter = s3client
	}
	sessions := review.NewController(deps, review.Config{
		RenderDPI:         cfg.Review.RenderDPI,
		InterRequestDelay: cfg.Review.InterRequestDelay,
		User:              cfg.Review.User,
	})

	checker := statuscheck.New(statuscheck.Options{
		Redis:     sq,
		Detect:    detector,
		S3Bucket:  cfg.S3.Bucket,
		VisionKey: cfg.Engines.VisionAPIKey,
	})

	mux := http.NewServeMux()
	server.New(server.Dependencies{
		Sessions:   sessions,
		Documents:  docs,
		Specialist: sq,
		Checker:    checker,
	}).RegisterRoutes(mux)

	// Dashboard
	dash := web.New(cfg.Server.Addr)
	dash.RegisterRoutes(mux)

	// Queue depth gauge updater
	depthCtx, depthCancel := context.WithCancel(context.Background())
	defer depthCancel()
	go func() {
		t := time.NewTicker(15 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-depthCtx.Done():
				return
			case <-t.C:
				pending, delayed, dlq, err := sq.Depths(depthCtx)
				if err != nil {
					continue
				}
				metrics.SetReviewQueueDepth("pending", pending)
				metrics.SetReviewQueueDepth("delayed", delayed)
				metrics.SetReviewQueueDepth("dlq", dlq)
			}
		}
	}()

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: mux}

	go func() {
		log.Info().Msgf("HTTP server listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(ctx)
	fmt.Println("shutdown complete")
}
