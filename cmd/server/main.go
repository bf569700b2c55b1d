package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/watershedlabs/leaksense/internal/api"
	"github.com/watershedlabs/leaksense/internal/detect"
	"github.com/watershedlabs/leaksense/internal/localize"
	"github.com/watershedlabs/leaksense/internal/matrix"
	"github.com/watershedlabs/leaksense/internal/metrics"
	"github.com/watershedlabs/leaksense/internal/orchestrate"
	"github.com/watershedlabs/leaksense/internal/repository/postgres"
	"github.com/watershedlabs/leaksense/internal/simulator"
	"github.com/watershedlabs/leaksense/internal/storage/blob"
	"github.com/watershedlabs/leaksense/internal/topology"
	"github.com/watershedlabs/leaksense/pkg/config"
	"github.com/watershedlabs/leaksense/pkg/health"
	"github.com/watershedlabs/leaksense/pkg/logging"
	"github.com/watershedlabs/leaksense/pkg/pubsub"
	"github.com/watershedlabs/leaksense/pkg/server"
)

func main() {
	configPath := flag.String("config", "leaksense.yaml", "optional YAML config overlay")
	flag.Parse()

	logger := logging.NewDefaultLogger()
	logging.SetDefaultLogger(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", logging.Error(err))
		os.Exit(1)
	}

	ctx := context.Background()

	repo, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", logging.Error(err))
		os.Exit(1)
	}

	blobStore, err := newBlobStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialize blob storage", logging.Error(err))
		os.Exit(1)
	}

	sim := simulator.New(simulator.WithLogger(logger))
	bus := pubsub.NewPubSub()
	coordinator := matrix.NewCoordinator()

	resolvePath, err := newPathResolver(blobStore, logger)
	if err != nil {
		logger.Error("failed to prepare .inp path resolver", logging.Error(err))
		os.Exit(1)
	}
	matrixEngine := matrix.New(repo, sim, coordinator, resolvePath, bus, logger, matrix.WithBatchLogDir(cfg.MatrixBatchLogDir))

	topologySvc := topology.NewService(repo, logger)
	detector := detect.New(repo, logger)
	localizer := localize.New(repo)
	orchestrator := orchestrate.New(repo, detector, localizer, logger)

	metricsReg := metrics.DefaultRegistry()

	apiServer := api.NewServer(api.Deps{
		Repo:         repo,
		Topology:     topologySvc,
		MatrixEngine: matrixEngine,
		Detector:     detector,
		Localizer:    localizer,
		Orchestrator: orchestrator,
		Blob:         blobStore,
		Metrics:      metricsReg,
		Log:          logger,
	})

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer.Routes())
	mux.Handle("/metrics", promhttp.HandlerFor(metricsReg.PrometheusRegistry(), promhttp.HandlerOpts{}))

	checker := health.NewHealthChecker()
	checker.RegisterCheck("database", health.RepositoryCheck(func() error { return repo.Ping(ctx) }))
	checker.RegisterLivenessCheck("alive", func() health.Check { return health.SimpleCheck("alive") })
	mux.HandleFunc("/health", checker.HTTPHandler())
	mux.HandleFunc("/health/ready", checker.ReadinessHandler())
	mux.HandleFunc("/health/live", checker.LivenessHandler())

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Info("leaksense server starting",
		logging.String("addr", addr),
		logging.Bool("s3_storage", cfg.UsesS3()))

	gs := server.NewGracefulServer(addr, mux)
	if err := gs.Start(); err != nil {
		logger.Error("server exited with error", logging.Error(err))
		os.Exit(1)
	}
}

// newBlobStore builds the configured blob.Store.
func newBlobStore(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	if cfg.UsesS3() {
		return blob.NewS3(ctx, cfg.AWSS3Bucket, cfg.AWSRegion)
	}
	return blob.NewLocalFS(cfg.StorageEPANETDir)
}

// newPathResolver returns the matrix engine's PathResolver. LocalFS already
// exposes the resolved on-disk path directly. S3 has no local path, so its
// .inp files are downloaded to a cache directory on first resolution and
// reused afterward.
func newPathResolver(store blob.Store, log logging.Logger) (matrix.PathResolver, error) {
	if localStore, ok := store.(*blob.LocalFS); ok {
		return localStore.PathFor, nil
	}

	cacheDir := filepath.Join(os.TempDir(), "leaksense-inp-cache")
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, err
	}
	return func(networkID string) string {
		cachedPath := filepath.Join(cacheDir, networkID+".inp")
		if _, err := os.Stat(cachedPath); err == nil {
			return cachedPath
		}
		data, err := store.Get(context.Background(), networkID)
		if err != nil {
			log.Error("failed to download .inp file from S3 for matrix build",
				logging.String("network_id", networkID), logging.Error(err))
			return cachedPath
		}
		if err := os.WriteFile(cachedPath, data, 0o644); err != nil {
			log.Error("failed to cache downloaded .inp file",
				logging.String("network_id", networkID), logging.Error(err))
		}
		return cachedPath
	}, nil
}
