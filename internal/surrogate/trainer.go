package surrogate

import (
	"context"
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	appconfig "calibflow/config"
	"calibflow/logger"
	"calibflow/models"
)

// Model bundles a trained network with the scalers framing its input and
// output spaces. Predict is the only entry point calibration needs.
type Model struct {
	Net     *Network
	XScaler *Scaler
	YScaler *Scaler
}

// Predict runs one scaled forward pass and returns the price surface in
// original units.
func (m *Model) Predict(params models.HestonParams) ([]float64, error) {
	xs, err := m.XScaler.ScaleVec(params.Vector())
	if err != nil {
		return nil, err
	}
	out, err := m.Net.Forward(xs)
	if err != nil {
		return nil, err
	}
	return m.YScaler.InverseVec(out)
}

// EpochStats records the scaled-space losses of one training epoch.
type EpochStats struct {
	Epoch     int
	TrainLoss float64
	ValLoss   float64
}

// Trainer fits the surrogate with mini-batch SGD plus momentum.
type Trainer struct {
	cfg appconfig.SurrogateConfig
	log *logger.Log
}

// NewTrainer wires a trainer for the given configuration.
func NewTrainer(cfg appconfig.SurrogateConfig) *Trainer {
	return &Trainer{cfg: cfg, log: logger.GetLogger()}
}

// Train fits a fresh network on the design matrices. Rows of x hold the five
// parameter values, rows of y the matching flattened price surfaces. Rows are
// shuffled once to carve off the validation split and re-shuffled every
// epoch; both shuffles and the weight init derive from the configured seed,
// so training is reproducible.
func (t *Trainer) Train(ctx context.Context, x, y *mat.Dense) (*Model, []EpochStats, error) {
	xRows, xCols := x.Dims()
	yRows, yCols := y.Dims()
	if xRows != yRows {
		return nil, nil, fmt.Errorf("x has %d rows, y has %d: %w", xRows, yRows, ErrShapeMismatch)
	}
	if xRows < 2 {
		return nil, nil, fmt.Errorf("training needs at least 2 rows, got %d", xRows)
	}

	xScaler := FitScaler(x)
	yScaler := FitScaler(y)
	xs, err := xScaler.Scale(x)
	if err != nil {
		return nil, nil, err
	}
	ys, err := yScaler.Scale(y)
	if err != nil {
		return nil, nil, err
	}

	sizes := make([]int, 0, len(t.cfg.HiddenLayers)+2)
	sizes = append(sizes, xCols)
	sizes = append(sizes, t.cfg.HiddenLayers...)
	sizes = append(sizes, yCols)

	net, err := NewNetwork(sizes, uint64(t.cfg.Seed))
	if err != nil {
		return nil, nil, err
	}

	rng := rand.New(rand.NewSource(uint64(t.cfg.Seed)))
	perm := rng.Perm(xRows)
	valCount := int(float64(xRows) * t.cfg.ValidationSplit)
	if valCount >= xRows {
		valCount = xRows - 1
	}
	trainIdx := perm[:xRows-valCount]
	valIdx := perm[xRows-valCount:]

	batchSize := t.cfg.BatchSize
	if batchSize < 1 || batchSize > len(trainIdx) {
		batchSize = len(trainIdx)
	}

	velW := make([]*mat.Dense, len(net.weights))
	velB := make([]*mat.VecDense, len(net.biases))
	for l, w := range net.weights {
		r, c := w.Dims()
		velW[l] = mat.NewDense(r, c, nil)
		velB[l] = mat.NewVecDense(r, nil)
	}

	log := t.log.WithComponent("surrogate").WithFields(logger.Fields{
		"layers":     fmt.Sprint(sizes),
		"train_rows": len(trainIdx),
		"val_rows":   len(valIdx),
		"batch_size": batchSize,
		"epochs":     t.cfg.Epochs,
	})
	log.Info("training surrogate")

	var bar *progressbar.ProgressBar
	if t.cfg.Progress {
		bar = progressBar(t.cfg.Epochs)
	}

	start := time.Now()
	history := make([]EpochStats, 0, t.cfg.Epochs)
	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, history, fmt.Errorf("training interrupted at epoch %d: %w", epoch, err)
		}

		rng.Shuffle(len(trainIdx), func(i, j int) {
			trainIdx[i], trainIdx[j] = trainIdx[j], trainIdx[i]
		})

		trainSSE := 0.0
		for begin := 0; begin < len(trainIdx); begin += batchSize {
			end := begin + batchSize
			if end > len(trainIdx) {
				end = len(trainIdx)
			}
			trainSSE += t.step(net, xs, ys, trainIdx[begin:end], velW, velB)
		}
		trainLoss := trainSSE / float64(len(trainIdx)*yCols)
		valLoss := evaluate(net, xs, ys, valIdx)
		history = append(history, EpochStats{Epoch: epoch, TrainLoss: trainLoss, ValLoss: valLoss})

		if bar != nil {
			bar.Describe(fmt.Sprintf("epoch %d/%d loss %.3e", epoch, t.cfg.Epochs, trainLoss))
			bar.Add(1)
		}
		log.WithFields(logger.Fields{
			"epoch":      epoch,
			"train_loss": trainLoss,
			"val_loss":   valLoss,
		}).Debug("epoch complete")
	}
	if bar != nil {
		bar.Finish()
	}

	final := history[len(history)-1]
	logger.LogPerformanceEntry(log, "surrogate", "train", time.Since(start), logger.Fields{
		"train_loss": final.TrainLoss,
		"val_loss":   final.ValLoss,
	})

	return &Model{Net: net, XScaler: xScaler, YScaler: yScaler}, history, nil
}

// step runs one mini-batch update and returns the batch squared-error sum.
func (t *Trainer) step(net *Network, xs, ys *mat.Dense, batch []int, velW []*mat.Dense, velB []*mat.VecDense) float64 {
	gradW := make([]*mat.Dense, len(net.weights))
	gradB := make([]*mat.VecDense, len(net.biases))
	for l, w := range net.weights {
		r, c := w.Dims()
		gradW[l] = mat.NewDense(r, c, nil)
		gradB[l] = mat.NewVecDense(r, nil)
	}

	sse := 0.0
	for _, idx := range batch {
		st := net.forwardPass(xs.RawRowView(idx))
		sse += net.backprop(st, ys.RawRowView(idx), gradW, gradB)
	}

	scale := t.cfg.LearningRate / float64(len(batch))
	for l := range net.weights {
		velW[l].Scale(t.cfg.Momentum, velW[l])
		var stepW mat.Dense
		stepW.Scale(scale, gradW[l])
		velW[l].Sub(velW[l], &stepW)
		net.weights[l].Add(net.weights[l], velW[l])

		velB[l].ScaleVec(t.cfg.Momentum, velB[l])
		stepB := mat.NewVecDense(gradB[l].Len(), nil)
		stepB.ScaleVec(scale, gradB[l])
		velB[l].SubVec(velB[l], stepB)
		net.biases[l].AddVec(net.biases[l], velB[l])
	}
	return sse
}

// evaluate returns the mean squared error over the given rows in scaled
// space, zero when idx is empty.
func evaluate(net *Network, xs, ys *mat.Dense, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	_, width := ys.Dims()
	sse := 0.0
	for _, i := range idx {
		out := net.forwardPass(xs.RawRowView(i)).output()
		row := ys.RawRowView(i)
		for j := 0; j < out.Len(); j++ {
			r := out.AtVec(j) - row[j]
			sse += r * r
		}
	}
	return sse / float64(len(idx)*width)
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
