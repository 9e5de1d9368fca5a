package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/KenB-Good/ClipMaster/api"
	"github.com/KenB-Good/ClipMaster/capture"
	"github.com/KenB-Good/ClipMaster/config"
	"github.com/KenB-Good/ClipMaster/events"
	"github.com/KenB-Good/ClipMaster/highlight"
	"github.com/KenB-Good/ClipMaster/inference"
	"github.com/KenB-Good/ClipMaster/media"
	"github.com/KenB-Good/ClipMaster/orchestrator"
	"github.com/KenB-Good/ClipMaster/pipeline"
	"github.com/KenB-Good/ClipMaster/storage"
	"github.com/KenB-Good/ClipMaster/store"
	"github.com/KenB-Good/ClipMaster/store/postgres"
	"github.com/KenB-Good/ClipMaster/store/redisq"
	"github.com/KenB-Good/ClipMaster/twitch"
	"github.com/KenB-Good/ClipMaster/types"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cfg.EnsureDirs(); err != nil {
		log.Fatalf("❌ Failed to create storage directories: %v", err)
	}

	tasks, meta, closeStores := openStores(ctx, cfg)
	defer closeStores()

	orch := orchestrator.New(tasks, meta, orchestrator.Options{})

	local, err := storage.NewLocalStore(cfg.UploadDir)
	if err != nil {
		log.Fatalf("❌ Failed to open local storage: %v", err)
	}

	var archive storage.ObjectStore
	if cfg.S3Bucket != "" {
		s3store, err := storage.NewS3Store(ctx, storage.S3Options{
			Bucket: cfg.S3Bucket,
			Prefix: cfg.S3Prefix,
			Region: cfg.S3Region,
		})
		if err != nil {
			log.Printf("⚠️ S3 archive disabled: %v", err)
		} else {
			archive = s3store
			log.Printf("✅ Archiving clips to s3://%s", cfg.S3Bucket)
		}
	}

	producer, err := events.NewProducer(cfg.KafkaBrokers, cfg.LifecycleTopic)
	if err != nil {
		log.Printf("⚠️ Lifecycle events disabled: %v", err)
	} else {
		defer producer.Close()
	}
	// Interface fields stay nil-nil when the producer is unavailable.
	var created pipeline.LifecycleEmitter
	var deleted storage.LifecycleEmitter
	if producer != nil {
		created = producer
		deleted = producer
	}

	var matcher highlight.PromptMatcher
	if cfg.CohereAPIKey != "" {
		matcher = inference.NewCoherePromptMatcher(cfg.CohereAPIKey)
		log.Println("✅ Custom prompt matching enabled")
	}
	scorer := highlight.NewScorer(highlight.DefaultConfig(), matcher)

	helix := twitch.NewHelixClient(cfg.TwitchClientID, cfg.TwitchClientSecret)
	manager := capture.NewManager(helix, capture.NewStreamlinkRecorder(), scorer, meta, orch,
		capture.Options{OutputDir: cfg.UploadDir})

	materializer := &media.Materializer{TempDir: cfg.TempDir}

	cpuPool := orchestrator.NewPool(orch, types.ResourceCPU, cfg.CPUWorkers,
		pipeline.NewTranscription(meta, materializer, inference.NewWhisperCLI(cfg.WhisperModel, cfg.TempDir), cfg.TempDir),
		pipeline.NewClipGeneration(meta, materializer, cfg.ClipsDir, archive, created),
		pipeline.NewSubtitleGeneration(meta),
		pipeline.NewStreamCapture(manager),
	)
	gpuPool := orchestrator.NewPool(orch, types.ResourceGPU, cfg.GPUWorkers,
		pipeline.NewHighlightDetection(meta, materializer, inference.NewPCMEnergyAnalyzer(),
			inference.NewFFmpegSceneDetector(cfg.TempDir), highlight.DefaultConfig(), matcher, cfg.TempDir),
	)

	var pools sync.WaitGroup
	pools.Add(2)
	go func() { defer pools.Done(); cpuPool.Run(ctx) }()
	go func() { defer pools.Done(); gpuPool.Run(ctx) }()

	if consumer, err := events.NewCaptureConsumer(cfg.KafkaBrokers, cfg.CaptureTopic, "clipmaster", orch); err != nil {
		log.Printf("⚠️ Capture request consumer disabled: %v", err)
	} else {
		defer consumer.Close()
		go func() {
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("⚠️ Capture request consumer stopped: %v", err)
			}
		}()
	}

	scheduler := cron.New()
	if cfg.AutoCleanupEnabled {
		sweeper := storage.NewSweeper(meta, deleted, local.DiskUsage, cfg.AutoCleanupDays, cfg.AutoCleanupThreshold)
		if _, err := scheduler.AddFunc(cfg.CleanupSchedule, func() {
			if _, err := sweeper.Sweep(ctx); err != nil {
				log.Printf("⚠️ Cleanup sweep failed: %v", err)
			}
		}); err != nil {
			log.Fatalf("❌ Invalid CLEANUP_SCHEDULE %q: %v", cfg.CleanupSchedule, err)
		}
	}
	scheduler.AddFunc("@every 5m", func() {
		if _, err := orch.RequeueStale(ctx, config.StaleRunningAge); err != nil {
			log.Printf("⚠️ Stale task requeue failed: %v", err)
		}
	})
	scheduler.Start()
	defer scheduler.Stop()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: metricsMux}
	go func() {
		log.Printf("📊 Metrics listening on :%s", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("⚠️ Metrics server stopped: %v", err)
		}
	}()

	apiSrv := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: api.NewServer(orch, meta, manager).Router(),
	}
	go func() {
		log.Printf("🚀 API listening on :%s", cfg.APIPort)
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ API server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("🛑 Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ API shutdown: %v", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ Metrics shutdown: %v", err)
	}
	pools.Wait()
	log.Println("✅ Shutdown complete")
}

// openStores wires the task queue and metadata store. Postgres carries the
// metadata either way; the queue prefers Redis for cheap atomic claims and
// falls back to Postgres. Without Postgres the process runs fully in memory,
// which is only useful for local development.
func openStores(ctx context.Context, cfg config.Settings) (store.TaskStore, store.MetadataStore, func()) {
	pg, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Printf("⚠️ Postgres unavailable, running in memory: %v", err)
		mem := store.NewMemory()
		return mem, mem, func() {}
	}
	if err := pg.Migrate(ctx); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}
	log.Println("✅ Connected to Postgres")

	queue, err := redisq.Connect(ctx, cfg.RedisURL)
	if err != nil {
		log.Printf("⚠️ Redis unavailable, queueing tasks in Postgres: %v", err)
		return pg, pg, pg.Close
	}
	log.Println("✅ Task queue on Redis")
	return queue, pg, func() {
		queue.Close()
		pg.Close()
	}
}
