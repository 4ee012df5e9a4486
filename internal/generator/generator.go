package generator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"

	appconfig "calibflow/config"
	"calibflow/internal/channel"
	"calibflow/internal/curve"
	"calibflow/internal/grid"
	"calibflow/internal/heston"
	"calibflow/internal/metrics"
	"calibflow/internal/surface"
	"calibflow/logger"
	"calibflow/models"
)

// Generator walks the parameter grid, simulates one option price surface per
// cell and batches the records onto the corpus channel. Cell seeds derive
// from the run's base seed alone, so the produced corpus does not depend on
// worker count or scheduling.
type Generator struct {
	config   *appconfig.Config
	channels *channel.Channels
	grid     *grid.Grid
	surface  models.SurfaceGrid
	curve    curve.Provider
	runID    string
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	done     chan struct{}
	log      *logger.Log
	bar      *progressbar.ProgressBar

	// Batching
	pending   []models.SurfaceRecord
	lastFlush time.Time

	// Metrics
	startedAt      time.Time
	cellsSimulated int64
	batchesSent    int64
	errorsCount    int64
}

func NewGenerator(cfg *appconfig.Config, channels *channel.Channels) (*Generator, error) {
	g, err := grid.New(
		grid.Axis{Name: "mu", Min: cfg.Grid.Mu.Min, Max: cfg.Grid.Mu.Max, Count: cfg.Grid.Mu.Count},
		grid.Axis{Name: "kappa", Min: cfg.Grid.Kappa.Min, Max: cfg.Grid.Kappa.Max, Count: cfg.Grid.Kappa.Count},
		grid.Axis{Name: "theta", Min: cfg.Grid.Theta.Min, Max: cfg.Grid.Theta.Max, Count: cfg.Grid.Theta.Count},
		grid.Axis{Name: "sigma", Min: cfg.Grid.Sigma.Min, Max: cfg.Grid.Sigma.Max, Count: cfg.Grid.Sigma.Count},
		grid.Axis{Name: "rho", Min: cfg.Grid.Rho.Min, Max: cfg.Grid.Rho.Max, Count: cfg.Grid.Rho.Count},
	)
	if err != nil {
		return nil, fmt.Errorf("compile grid: %w", err)
	}

	surf := models.SurfaceGrid{Strikes: cfg.Surface.Strikes}
	for _, m := range cfg.Surface.Maturities {
		surf.Maturities = append(surf.Maturities, models.Maturity{Steps: m.Steps, Years: m.Years})
	}
	if err := surf.Validate(cfg.Simulation.Steps); err != nil {
		return nil, fmt.Errorf("surface layout: %w", err)
	}

	crv, err := buildCurve(cfg.Curve)
	if err != nil {
		return nil, fmt.Errorf("rate curve: %w", err)
	}

	return &Generator{
		config:    cfg,
		channels:  channels,
		grid:      g,
		surface:   surf,
		curve:     crv,
		runID:     uuid.New().String(),
		wg:        &sync.WaitGroup{},
		done:      make(chan struct{}),
		log:       logger.GetLogger(),
		pending:   make([]models.SurfaceRecord, 0, cfg.Generator.BatchSize),
		lastFlush: time.Now(),
	}, nil
}

func buildCurve(cfg appconfig.CurveConfig) (curve.Provider, error) {
	switch cfg.Type {
	case "piecewise":
		knots := make([]curve.Knot, 0, len(cfg.Knots))
		for _, k := range cfg.Knots {
			knots = append(knots, curve.Knot{Year: k.Year, Rate: k.Rate})
		}
		return curve.NewPiecewiseLinear(knots)
	default:
		return curve.Flat{R: cfg.Rate}, nil
	}
}

// RunID identifies this sweep in corpus paths and record rows.
func (g *Generator) RunID() string {
	return g.runID
}

// CellCount returns the total number of grid cells in the sweep.
func (g *Generator) CellCount() int {
	return g.grid.Size()
}

// Done is closed once every cell has been simulated and the final partial
// batch handed to the channel.
func (g *Generator) Done() <-chan struct{} {
	return g.done
}

func (g *Generator) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return fmt.Errorf("generator already running")
	}
	g.running = true
	g.ctx = ctx
	g.startedAt = time.Now()
	g.mu.Unlock()

	log := g.log.WithComponent("generator").WithFields(logger.Fields{"operation": "start"})
	log.WithFields(logger.Fields{
		"run_id":     g.runID,
		"grid_cells": g.grid.Size(),
		"paths":      g.config.Simulation.Paths,
		"steps":      g.config.Simulation.Steps,
		"surface":    g.surface.Size(),
	}).Info("starting generator")

	numWorkers := g.config.Generator.MaxWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}

	if g.config.Generator.Progress {
		g.bar = progressBar(g.grid.Size())
		g.bar.Describe("simulating grid cells")
	}

	cells := make(chan int, numWorkers)
	go g.dispatch(cells)

	log.WithFields(logger.Fields{"workers": numWorkers}).Info("starting generator workers")
	for i := 0; i < numWorkers; i++ {
		g.wg.Add(1)
		go g.worker(i, cells)
	}

	// Start batch flusher
	go g.batchFlusher()

	// Start metrics reporter
	go g.metricsReporter(ctx)

	// Close out the run once every worker has drained the cell stream
	go func() {
		g.wg.Wait()
		g.flushPending(true)
		if g.bar != nil {
			g.bar.Finish()
		}
		close(g.done)

		g.mu.RLock()
		cellsDone, batchesSent, errorsCount := g.cellsSimulated, g.batchesSent, g.errorsCount
		elapsed := time.Since(g.startedAt)
		g.mu.RUnlock()
		g.log.WithComponent("generator").WithFields(logger.Fields{
			"run_id":          g.runID,
			"cells_simulated": cellsDone,
			"batches_sent":    batchesSent,
			"errors_count":    errorsCount,
			"elapsed":         elapsed.String(),
		}).Info("grid sweep complete")
	}()

	log.Info("generator started successfully")
	return nil
}

func (g *Generator) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	g.running = false
	g.mu.Unlock()

	g.log.WithComponent("generator").Info("stopping generator")
	<-g.done
	g.log.WithComponent("generator").Info("generator stopped")
}

// dispatch feeds flat cell indexes to the workers in grid order.
func (g *Generator) dispatch(cells chan<- int) {
	defer close(cells)
	for i := 0; i < g.grid.Size(); i++ {
		select {
		case cells <- i:
		case <-g.ctx.Done():
			return
		}
	}
}

func (g *Generator) worker(workerID int, cells <-chan int) {
	defer g.wg.Done()

	log := g.log.WithComponent("generator").WithFields(logger.Fields{
		"worker_id": workerID,
		"worker":    "generator",
	})

	log.Info("starting generator worker")

	for {
		select {
		case <-g.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case index, ok := <-cells:
			if !ok {
				log.Info("cell stream drained, worker stopping")
				return
			}

			start := time.Now()
			if err := g.simulateCell(index); err != nil {
				g.mu.Lock()
				g.errorsCount++
				g.mu.Unlock()
				log.WithError(err).WithFields(logger.Fields{"cell_index": index}).Error("cell simulation failed")
				continue
			}

			logger.LogPerformanceEntry(log, "generator", "simulate_cell", time.Since(start), logger.Fields{
				"worker_id":  workerID,
				"cell_index": index,
			})
		}
	}
}

// simulateCell prices one grid cell and queues its record. The noise stream
// is seeded from the cell index, never from the worker.
func (g *Generator) simulateCell(index int) error {
	params, err := g.grid.Cell(index)
	if err != nil {
		return err
	}
	seed := grid.Seed(g.config.Simulation.BaseSeed, index)
	src := heston.NewNormal(uint64(seed))

	bundle, err := heston.Simulate(heston.Inputs{
		Spot:     g.config.Simulation.Spot,
		Variance: g.config.Simulation.Variance,
		Params:   params,
		Horizon:  g.config.Simulation.Horizon,
		Steps:    g.config.Simulation.Steps,
		Paths:    g.config.Simulation.Paths,
	}, src)
	if err != nil {
		return fmt.Errorf("simulate cell %d: %w", index, err)
	}

	prices, err := surface.Price(bundle, g.surface, g.curve)
	if err != nil {
		return fmt.Errorf("price cell %d: %w", index, err)
	}

	g.addRecord(models.SurfaceRecord{
		RunID:       g.runID,
		CellIndex:   int64(index),
		Seed:        seed,
		Mu:          params.Mu,
		Kappa:       params.Kappa,
		Theta:       params.Theta,
		Sigma:       params.Sigma,
		Rho:         params.Rho,
		Spot:        g.config.Simulation.Spot,
		Variance:    g.config.Simulation.Variance,
		Prices:      prices,
		GeneratedAt: time.Now().UTC(),
	})

	if g.bar != nil {
		g.bar.Add(1)
	}
	logger.IncrementCellSimulated(len(prices))
	return nil
}

func (g *Generator) addRecord(rec models.SurfaceRecord) {
	g.mu.Lock()
	g.pending = append(g.pending, rec)
	g.cellsSimulated++
	var batch *models.SurfaceBatch
	if len(g.pending) >= g.config.Generator.BatchSize {
		batch = g.takeBatchLocked()
	}
	g.mu.Unlock()

	if batch != nil {
		g.sendBatch(*batch)
	}
}

// takeBatchLocked drains the pending records into a batch. Callers hold g.mu.
func (g *Generator) takeBatchLocked() *models.SurfaceBatch {
	if len(g.pending) == 0 {
		return nil
	}
	records := g.pending
	g.pending = make([]models.SurfaceRecord, 0, g.config.Generator.BatchSize)
	g.lastFlush = time.Now()
	return &models.SurfaceBatch{
		BatchID:     uuid.New().String(),
		Dataset:     g.config.Corpus.Dataset,
		RunID:       g.runID,
		Records:     records,
		RecordCount: len(records),
		CreatedAt:   time.Now().UTC(),
	}
}

// sendBatch hands a batch to the record channel, blocking while the corpus
// writer is behind. This backpressure is what keeps the sweep lossless.
func (g *Generator) sendBatch(batch models.SurfaceBatch) {
	log := g.log.WithComponent("generator").WithFields(logger.Fields{
		"batch_id":     batch.BatchID,
		"record_count": batch.RecordCount,
		"operation":    "send_batch",
	})

	if !g.channels.SendBatch(g.ctx, batch) {
		g.mu.Lock()
		g.errorsCount++
		g.mu.Unlock()
		metrics.EmitDropMetric(g.log, metrics.DropMetricRecordBatch, batch.Dataset, batch.RunID, "send")
		log.Warn("batch abandoned, run context ended mid-send")
		return
	}

	g.mu.Lock()
	g.batchesSent++
	g.mu.Unlock()

	logger.LogDataFlowEntry(log, "generator", "record_channel", batch.RecordCount, "surface_records")
}

func (g *Generator) batchFlusher() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-g.ctx.Done():
			return
		case <-g.done:
			return
		case <-ticker.C:
			g.flushPending(false)
		}
	}
}

// flushPending sends the buffered partial batch. With force unset it only
// fires after the configured batch timeout.
func (g *Generator) flushPending(force bool) {
	g.mu.Lock()
	if !force && time.Since(g.lastFlush) < g.config.Generator.BatchTimeout {
		g.mu.Unlock()
		return
	}
	batch := g.takeBatchLocked()
	g.mu.Unlock()

	if batch != nil {
		g.sendBatch(*batch)
	}
}

func (g *Generator) metricsReporter(ctx context.Context) {
	ticker := time.NewTicker(g.config.Generator.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-g.done:
			return
		case <-ticker.C:
			g.reportMetrics()
		}
	}
}

func (g *Generator) reportMetrics() {
	g.mu.RLock()
	stats := metrics.GeneratorStats{
		CellsSimulated:   g.cellsSimulated,
		CellsTotal:       g.grid.Size(),
		BatchesSent:      g.batchesSent,
		ErrorsCount:      g.errorsCount,
		PendingRecords:   len(g.pending),
		Elapsed:          time.Since(g.startedAt),
		RecordChannelLen: g.channels.Len(),
		RecordChannelCap: g.channels.Cap(),
	}
	g.mu.RUnlock()

	metrics.ReportGenerator(g.log, g.runID, stats)
}

// progress bar initialization
func progressBar(length int) *progressbar.ProgressBar {
	bar := progressbar.NewOptions(
		length,
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(20),
		progressbar.OptionSetVisibility(true),
		progressbar.OptionShowDescriptionAtLineEnd(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}))
	return bar
}
