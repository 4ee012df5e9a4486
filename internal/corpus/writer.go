package corpus

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
	"golang.org/x/time/rate"

	appconfig "calibflow/config"
	"calibflow/internal/metadata"
	"calibflow/internal/metrics"
	"calibflow/logger"
	"calibflow/models"
)

// ParquetSurfaceRecord is the on-disk row layout of a corpus record. Prices
// are stored as native DOUBLE values, so a written surface reads back with
// the exact same bits.
type ParquetSurfaceRecord struct {
	RunID       string    `parquet:"name=run_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	CellIndex   int64     `parquet:"name=cell_index, type=INT64"`
	Seed        int64     `parquet:"name=seed, type=INT64"`
	Mu          float64   `parquet:"name=mu, type=DOUBLE"`
	Kappa       float64   `parquet:"name=kappa, type=DOUBLE"`
	Theta       float64   `parquet:"name=theta, type=DOUBLE"`
	Sigma       float64   `parquet:"name=sigma, type=DOUBLE"`
	Rho         float64   `parquet:"name=rho, type=DOUBLE"`
	Spot        float64   `parquet:"name=spot, type=DOUBLE"`
	Variance    float64   `parquet:"name=variance, type=DOUBLE"`
	Prices      []float64 `parquet:"name=prices, type=DOUBLE, repetitiontype=REPEATED"`
	GeneratedAt int64     `parquet:"name=generated_at, type=INT64"`
}

// memoryFileWriter implements ParquetFile interface for in-memory writing
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{
		buffer: &bytes.Buffer{},
	}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	// Writing is append-only, seeking is never exercised
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error) {
	return mfw.buffer.Read(b)
}

func (mfw *memoryFileWriter) Write(b []byte) (int, error) {
	return mfw.buffer.Write(b)
}

func (mfw *memoryFileWriter) Close() error {
	return nil
}

func (mfw *memoryFileWriter) Bytes() []byte {
	return mfw.buffer.Bytes()
}

// WriterStats summarises the writer's output so far.
type WriterStats struct {
	FilesWritten    int64
	RecordsWritten  int64
	BytesWritten    int64
	ErrorsCount     int64
	BufferedRecords int
}

type corpusWriter struct {
	config   *appconfig.Config
	records  <-chan models.SurfaceBatch
	s3Client *s3.Client
	limiter  *rate.Limiter
	ctx      context.Context
	wg       *sync.WaitGroup
	flushWg  *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	quit     chan struct{}
	log      *logger.Log

	buffer      map[string][]models.SurfaceRecord
	seq         map[string]int
	flushTicker *time.Ticker
	metaGens    map[string]*metadata.Generator

	// Metrics
	filesWritten   int64
	recordsWritten int64
	bytesWritten   int64
	errorsCount    int64
}

// CorpusWriter is an exported alias for corpusWriter allowing external packages
// to interact with the writer while keeping the underlying implementation private.
type CorpusWriter = corpusWriter

func newCorpusWriter(cfg *appconfig.Config, records <-chan models.SurfaceBatch) (*corpusWriter, error) {
	log := logger.GetLogger()

	var s3Client *s3.Client
	var limiter *rate.Limiter
	if cfg.Storage.S3.Enabled {
		ctx := context.Background()

		// Configure AWS options
		loadOpts := []func(*config.LoadOptions) error{
			config.WithRegion(cfg.Storage.S3.Region),
		}
		if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
			loadOpts = append(loadOpts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(
					cfg.Storage.S3.AccessKeyID,
					cfg.Storage.S3.SecretAccessKey,
					"",
				),
			))
		}

		awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			log.WithComponent("corpus_writer").WithError(err).Warn("failed to load AWS configuration")
			return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
		}

		// Validate credentials
		creds, err := awsConfig.Credentials.Retrieve(ctx)
		if err != nil || !creds.HasKeys() {
			return nil, fmt.Errorf("aws credentials not found")
		}

		s3Client = s3.NewFromConfig(awsConfig, func(o *s3.Options) {
			if cfg.Storage.S3.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
			}
			o.UsePathStyle = cfg.Storage.S3.PathStyle
		})

		rps := cfg.Corpus.UploadRatePerSec
		if rps <= 0 {
			rps = 5
		}
		limiter = rate.NewLimiter(rate.Limit(rps), 1)

		log.WithComponent("corpus_writer").WithFields(logger.Fields{
			"bucket":     cfg.Storage.S3.Bucket,
			"region":     cfg.Storage.S3.Region,
			"endpoint":   cfg.Storage.S3.Endpoint,
			"path_style": cfg.Storage.S3.PathStyle,
			"rate_limit": rps,
		}).Info("s3 mirror initialized")
	}

	w := &corpusWriter{
		config:   cfg,
		records:  records,
		s3Client: s3Client,
		limiter:  limiter,
		wg:       &sync.WaitGroup{},
		flushWg:  &sync.WaitGroup{},
		log:      log,
		buffer:   make(map[string][]models.SurfaceRecord),
		seq:      make(map[string]int),
		metaGens: make(map[string]*metadata.Generator),
	}

	log.WithComponent("corpus_writer").WithFields(logger.Fields{
		"dir":          cfg.Corpus.Dir,
		"dataset":      cfg.Corpus.Dataset,
		"compression":  cfg.Corpus.Compression,
		"file_records": cfg.Corpus.FileRecords,
	}).Info("corpus writer initialized")

	return w, nil
}

// NewCorpusWriter constructs a new CorpusWriter instance.
func NewCorpusWriter(cfg *appconfig.Config, records <-chan models.SurfaceBatch) (*CorpusWriter, error) {
	return newCorpusWriter(cfg, records)
}

func (w *corpusWriter) start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("corpus writer already running")
	}
	w.running = true
	w.ctx = ctx
	w.quit = make(chan struct{})
	w.mu.Unlock()

	log := w.log.WithComponent("corpus_writer").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting corpus writer")

	w.flushTicker = time.NewTicker(w.config.Corpus.FlushInterval)

	numWorkers := w.config.Corpus.MaxWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}

	log.WithFields(logger.Fields{"workers": numWorkers}).Info("starting corpus writer workers")

	for i := 0; i < numWorkers; i++ {
		w.wg.Add(1)
		go w.worker(i)
	}

	w.flushWg.Add(1)
	go w.flushWorker()

	log.Info("corpus writer started successfully")
	return nil
}

// stop drains the writer. Callers close the record channel first; Stop then
// waits for the workers, flushes the partial tail file and writes catalog
// entries for every run seen.
func (w *corpusWriter) stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.log.WithComponent("corpus_writer").Info("stopping corpus writer")

	w.wg.Wait()
	close(w.quit)
	w.flushWg.Wait()
	w.flushTicker.Stop()

	catalogDir := filepath.Join(w.config.Corpus.Dir, "catalog")
	w.mu.RLock()
	gens := make([]*metadata.Generator, 0, len(w.metaGens))
	for _, gen := range w.metaGens {
		gens = append(gens, gen)
	}
	w.mu.RUnlock()
	for _, gen := range gens {
		if err := gen.WriteCatalogEntry(catalogDir); err != nil {
			w.log.WithComponent("corpus_writer").WithError(err).Warn("failed to write catalog entry")
		}
	}

	stats := w.Stats()
	metrics.ReportWriter(w.log, "corpus_writer", metrics.WriterStats{
		FilesWritten:    stats.FilesWritten,
		RecordsWritten:  stats.RecordsWritten,
		BytesWritten:    stats.BytesWritten,
		ErrorsCount:     stats.ErrorsCount,
		BufferedRecords: stats.BufferedRecords,
	})
	w.log.WithComponent("corpus_writer").Info("corpus writer stopped")
}

func (w *corpusWriter) worker(workerID int) {
	defer w.wg.Done()

	log := w.log.WithComponent("corpus_writer").WithFields(logger.Fields{
		"worker_id": workerID,
		"worker":    "corpus_writer",
	})

	log.Info("starting corpus writer worker")

	// Drain until the channel closes. Returning on ctx alone could strand
	// buffered batches and break the one-record-per-cell guarantee.
	for batch := range w.records {
		w.addBatch(batch)
	}
	log.Info("record channel closed, worker stopping")
}

type fileChunk struct {
	runID   string
	seq     int
	records []models.SurfaceRecord
}

func (w *corpusWriter) addBatch(batch models.SurfaceBatch) {
	var chunks []fileChunk

	w.mu.Lock()
	w.buffer[batch.RunID] = append(w.buffer[batch.RunID], batch.Records...)
	for len(w.buffer[batch.RunID]) >= w.config.Corpus.FileRecords {
		n := w.config.Corpus.FileRecords
		chunks = append(chunks, fileChunk{
			runID:   batch.RunID,
			seq:     w.seq[batch.RunID],
			records: w.buffer[batch.RunID][:n:n],
		})
		w.seq[batch.RunID]++
		w.buffer[batch.RunID] = w.buffer[batch.RunID][n:]
	}
	w.mu.Unlock()

	for _, c := range chunks {
		w.writeFile(c)
	}
}

func (w *corpusWriter) flushWorker() {
	defer w.flushWg.Done()

	log := w.log.WithComponent("corpus_writer").WithFields(logger.Fields{"worker": "flush"})
	log.Info("starting flush worker")

	for {
		select {
		case <-w.quit:
			w.flushBuffers("shutdown")
			log.Info("flush worker stopped")
			return
		case <-w.flushTicker.C:
			w.flushBuffers("interval")
		}
	}
}

func (w *corpusWriter) flushBuffers(reason string) {
	var chunks []fileChunk

	w.mu.Lock()
	for runID, records := range w.buffer {
		if len(records) == 0 {
			continue
		}
		chunks = append(chunks, fileChunk{
			runID:   runID,
			seq:     w.seq[runID],
			records: records,
		})
		w.seq[runID]++
		w.buffer[runID] = nil
	}
	w.mu.Unlock()

	if len(chunks) == 0 {
		return
	}

	w.log.WithComponent("corpus_writer").WithFields(logger.Fields{
		"flushed_files": len(chunks),
		"reason":        reason,
	}).Info("flushing buffers")

	for _, c := range chunks {
		w.writeFile(c)
	}
}

// writeFile lands one part file on disk and, when enabled, mirrors the same
// bytes to S3.
func (w *corpusWriter) writeFile(c fileChunk) {
	log := w.log.WithComponent("corpus_writer").WithFields(logger.Fields{
		"run_id":       c.runID,
		"part":         c.seq,
		"record_count": len(c.records),
		"operation":    "write_file",
	})

	data, fileSize, err := w.createParquetFile(c.records)
	if err != nil {
		w.mu.Lock()
		w.errorsCount++
		w.mu.Unlock()
		log.WithError(err).Error("failed to create parquet file")
		return
	}

	relDir := path.Join(
		fmt.Sprintf("dataset=%s", w.config.Corpus.Dataset),
		fmt.Sprintf("run=%s", c.runID),
	)
	filename := fmt.Sprintf("part-%05d-%s.parquet", c.seq, uuid.New().String())

	localDir := filepath.Join(w.config.Corpus.Dir, filepath.FromSlash(relDir))
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		w.mu.Lock()
		w.errorsCount++
		w.mu.Unlock()
		log.WithError(err).Error("failed to create run directory")
		return
	}
	localPath := filepath.Join(localDir, filename)
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		w.mu.Lock()
		w.errorsCount++
		w.mu.Unlock()
		log.WithError(err).Error("failed to write part file")
		return
	}

	w.mu.Lock()
	w.filesWritten++
	w.recordsWritten += int64(len(c.records))
	w.bytesWritten += fileSize
	w.mu.Unlock()
	logger.IncrementBatchWritten(fileSize)

	log.WithFields(logger.Fields{
		"path":      localPath,
		"file_size": fileSize,
	}).Info("part file written")

	if w.s3Client != nil {
		key := path.Join(w.config.Storage.S3.Prefix, relDir, filename)
		if err := w.uploadToS3(key, data); err != nil {
			w.mu.Lock()
			w.errorsCount++
			w.mu.Unlock()
			metrics.EmitDropMetric(w.log, metrics.DropMetricUpload, w.config.Corpus.Dataset, c.runID, "upload")
			log.WithError(err).
				WithEnv("S3_BUCKET").
				WithFields(logger.Fields{"bucket": w.config.Storage.S3.Bucket, "s3_key": key}).
				Error("failed to upload to S3")
		} else {
			logger.IncrementS3Write(fileSize)
		}
	}

	df := metadata.DataFile{
		Path:        localPath,
		FileSize:    fileSize,
		RecordCount: int64(len(c.records)),
		Partition: map[string]any{
			"dataset": w.config.Corpus.Dataset,
			"run":     c.runID,
		},
		Timestamp: time.Now().UTC(),
	}
	if err := w.metaGen(c.runID, localDir).AddFile(df); err != nil {
		log.WithError(err).Warn("failed to update run metadata")
	}
}

// metaGen returns the per-run metadata generator, creating it on first use.
func (w *corpusWriter) metaGen(runID, runDir string) *metadata.Generator {
	w.mu.Lock()
	defer w.mu.Unlock()
	gen, ok := w.metaGens[runID]
	if !ok {
		gen = metadata.NewGenerator(runDir, w.runInfo(runID))
		w.metaGens[runID] = gen
	}
	return gen
}

func (w *corpusWriter) runInfo(runID string) metadata.RunInfo {
	cfg := w.config
	info := metadata.RunInfo{
		Dataset:  cfg.Corpus.Dataset,
		RunID:    runID,
		Spot:     cfg.Simulation.Spot,
		Variance: cfg.Simulation.Variance,
		Horizon:  cfg.Simulation.Horizon,
		Steps:    cfg.Simulation.Steps,
		Paths:    cfg.Simulation.Paths,
		BaseSeed: cfg.Simulation.BaseSeed,
		Axes: []metadata.AxisInfo{
			{Name: "mu", Min: cfg.Grid.Mu.Min, Max: cfg.Grid.Mu.Max, Count: cfg.Grid.Mu.Count},
			{Name: "kappa", Min: cfg.Grid.Kappa.Min, Max: cfg.Grid.Kappa.Max, Count: cfg.Grid.Kappa.Count},
			{Name: "theta", Min: cfg.Grid.Theta.Min, Max: cfg.Grid.Theta.Max, Count: cfg.Grid.Theta.Count},
			{Name: "sigma", Min: cfg.Grid.Sigma.Min, Max: cfg.Grid.Sigma.Max, Count: cfg.Grid.Sigma.Count},
			{Name: "rho", Min: cfg.Grid.Rho.Min, Max: cfg.Grid.Rho.Max, Count: cfg.Grid.Rho.Count},
		},
		Strikes: cfg.Surface.Strikes,
	}
	for _, m := range cfg.Surface.Maturities {
		info.Maturities = append(info.Maturities, metadata.MaturityInfo{Steps: m.Steps, Years: m.Years})
	}
	return info
}

func (w *corpusWriter) createParquetFile(records []models.SurfaceRecord) ([]byte, int64, error) {
	log := w.log.WithComponent("corpus_writer").WithFields(logger.Fields{
		"record_count": len(records),
		"operation":    "create_parquet_file",
	})
	log.Debug("creating parquet file")

	// Create memory file writer
	fw := newMemoryFileWriter()

	// Create parquet writer
	pw, err := writer.NewParquetWriter(fw, new(ParquetSurfaceRecord), 4)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	// Set compression
	switch w.config.Corpus.Compression {
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	case "zstd":
		pw.CompressionType = parquet.CompressionCodec_ZSTD
	case "uncompressed":
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	default:
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	}

	for _, rec := range records {
		row := ParquetSurfaceRecord{
			RunID:       rec.RunID,
			CellIndex:   rec.CellIndex,
			Seed:        rec.Seed,
			Mu:          rec.Mu,
			Kappa:       rec.Kappa,
			Theta:       rec.Theta,
			Sigma:       rec.Sigma,
			Rho:         rec.Rho,
			Spot:        rec.Spot,
			Variance:    rec.Variance,
			Prices:      rec.Prices,
			GeneratedAt: rec.GeneratedAt.UnixMilli(),
		}

		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			return nil, 0, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}

	// Finalize writing
	if err := pw.WriteStop(); err != nil {
		return nil, 0, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}

	data := fw.Bytes()
	return data, int64(len(data)), nil
}

func (w *corpusWriter) uploadToS3(key string, data []byte) error {
	log := w.log.WithComponent("corpus_writer").WithFields(logger.Fields{
		"operation": "upload_to_s3",
		"data_size": len(data),
	})

	// Shutdown uploads still complete, rate-limited but never aborted
	ctx := context.WithoutCancel(w.ctx)
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("upload rate limiter: %w", err)
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.config.Storage.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":      "parquet",
			"compression":       w.config.Corpus.Compression,
			"calibflow-version": w.config.Calibflow.Version,
		},
	}

	if _, err := w.s3Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", w.config.Storage.S3.Bucket, err)
	}

	log.Info("successfully uploaded to S3")
	return nil
}

// Stats returns a copy of the writer's counters.
func (w *corpusWriter) Stats() WriterStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	buffered := 0
	for _, records := range w.buffer {
		buffered += len(records)
	}
	return WriterStats{
		FilesWritten:    w.filesWritten,
		RecordsWritten:  w.recordsWritten,
		BytesWritten:    w.bytesWritten,
		ErrorsCount:     w.errorsCount,
		BufferedRecords: buffered,
	}
}

// Start exposes the start method of corpusWriter.
func (w *CorpusWriter) Start(ctx context.Context) error { return w.start(ctx) }

// Stop exposes the stop method of corpusWriter.
func (w *CorpusWriter) Stop() { w.stop() }
