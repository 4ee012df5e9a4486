package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"calibflow/config"
	"calibflow/internal/calibrate"
	"calibflow/internal/channel"
	"calibflow/internal/corpus"
	"calibflow/internal/generator"
	"calibflow/internal/metrics"
	"calibflow/internal/surrogate"
	"calibflow/logger"
)

const defaultConfigPath = "config.yaml"

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	mode := flag.String("mode", "generate", "Run mode: generate, train or calibrate")
	runID := flag.String("run", "", "Corpus run to train on, defaults to the newest run")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath, defaultConfigPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Calibflow.Name,
		"version": cfg.Calibflow.Version,
		"mode":    *mode,
	}).Info("starting calibflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	if cfg.Storage.S3.Enabled {
		logger.InitCloudWatch(cfg.Storage.S3.Region, cfg.Calibflow.Name, cfg.Logging.DashboardName)
	}
	metrics.Configure(cfg.Metrics)

	switch strings.ToLower(*mode) {
	case "generate":
		err = runGenerate(ctx, cancel, cfg, log)
	case "train":
		err = runTrain(ctx, cfg, log, *runID)
	case "calibrate":
		err = runCalibrate(cfg, log)
	default:
		log.WithFields(logger.Fields{"mode": *mode}).Error("unknown run mode")
		os.Exit(2)
	}
	if err != nil {
		log.WithError(err).Error("run failed")
		os.Exit(1)
	}

	log.Info("calibflow stopped")
}

// runGenerate sweeps the parameter grid and lands the corpus, stopping on
// completion or on the first shutdown signal.
func runGenerate(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, log *logger.Log) error {
	channels := channel.NewChannels(cfg.Channels.RecordBuffer)

	channels.StartMetricsReporting(ctx, cfg.Generator.ReportInterval)
	metrics.StartChannelSizeMetrics(ctx, channels, cfg.Generator.ReportInterval)
	metrics.StartResourceMetrics(ctx, cfg.Generator.ReportInterval)

	gen, err := generator.NewGenerator(cfg, channels)
	if err != nil {
		return fmt.Errorf("create generator: %w", err)
	}
	writer, err := corpus.NewCorpusWriter(cfg, channels.Records)
	if err != nil {
		return fmt.Errorf("create corpus writer: %w", err)
	}

	if err := writer.Start(ctx); err != nil {
		return fmt.Errorf("start corpus writer: %w", err)
	}
	if err := gen.Start(ctx); err != nil {
		return fmt.Errorf("start generator: %w", err)
	}

	log.WithFields(logger.Fields{
		"run_id": gen.RunID(),
		"cells":  gen.CellCount(),
	}).Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-gen.Done():
		log.WithFields(logger.Fields{"run_id": gen.RunID()}).Info("grid sweep finished")
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
		cancel()
	}

	log.Info("starting graceful shutdown")

	gen.Stop()
	channels.Close()

	// The writer drains the closed channel and flushes its tail; uploads are
	// rate-limited, so bound the wait.
	done := make(chan struct{})
	go func() {
		writer.Stop()
		close(done)
	}()
	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}
	return nil
}

// runTrain fits the surrogate on a stored corpus run and writes the
// checkpoint.
func runTrain(ctx context.Context, cfg *config.Config, log *logger.Log, runID string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if runID == "" {
		latest, err := corpus.LatestRun(cfg.Corpus.Dir, cfg.Corpus.Dataset)
		if err != nil {
			return fmt.Errorf("resolve training run: %w", err)
		}
		runID = latest
	}

	data, err := corpus.LoadRun(cfg.Corpus.Dir, cfg.Corpus.Dataset, runID)
	if err != nil {
		return fmt.Errorf("load corpus run: %w", err)
	}
	x, y, err := data.Matrices()
	if err != nil {
		return fmt.Errorf("assemble design matrices: %w", err)
	}

	model, history, err := surrogate.NewTrainer(cfg.Surrogate).Train(ctx, x, y)
	if err != nil {
		return fmt.Errorf("train surrogate: %w", err)
	}
	if err := model.Save(cfg.Surrogate.Checkpoint); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	final := history[len(history)-1]
	log.WithComponent("main").WithFields(logger.Fields{
		"run_id":     runID,
		"rows":       len(data.Records),
		"epochs":     final.Epoch,
		"train_loss": final.TrainLoss,
		"val_loss":   final.ValLoss,
		"checkpoint": cfg.Surrogate.Checkpoint,
	}).Info("surrogate trained")
	return nil
}

// runCalibrate inverts a trained surrogate against the configured target
// surface.
func runCalibrate(cfg *config.Config, log *logger.Log) error {
	if cfg.Calibrate.Surface == "" {
		return fmt.Errorf("calibrate.surface is required in calibrate mode")
	}

	model, err := surrogate.LoadModel(cfg.Calibrate.Checkpoint)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	target, err := calibrate.LoadTargetSurface(cfg.Calibrate.Surface)
	if err != nil {
		return fmt.Errorf("load target surface: %w", err)
	}

	res, err := calibrate.NewFitter(model, cfg.Calibrate.MaxIterations).Fit(target, calibrate.DefaultGuess())
	if err != nil {
		return fmt.Errorf("calibrate: %w", err)
	}

	log.WithComponent("main").WithFields(logger.Fields{
		"mu":          res.Params.Mu,
		"kappa":       res.Params.Kappa,
		"theta":       res.Params.Theta,
		"sigma":       res.Params.Sigma,
		"rho":         res.Params.Rho,
		"objective":   res.Objective,
		"evaluations": res.Evaluations,
		"status":      res.Status,
	}).Info("calibration complete")
	return nil
}
