package recommender

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/temcen/hyprec/internal/config"
)

// ErrMatrixNotFound is returned by a MatrixStore when no matrix is stored under a key.
var ErrMatrixNotFound = errors.New("matrix not found")

// MatrixStore persists trained factor matrices between runs.
type MatrixStore interface {
	LoadMatrix(ctx context.Context, key string) (*mat.Dense, error)
	SaveMatrix(ctx context.Context, key string, m *mat.Dense) error
}

// MemoryMatrixStore is a MatrixStore backed by a map.
type MemoryMatrixStore struct {
	mu       sync.RWMutex
	matrices map[string]*mat.Dense
}

func NewMemoryMatrixStore() *MemoryMatrixStore {
	return &MemoryMatrixStore{matrices: make(map[string]*mat.Dense)}
}

func (s *MemoryMatrixStore) LoadMatrix(ctx context.Context, key string) (*mat.Dense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.matrices[key]
	if !ok {
		return nil, ErrMatrixNotFound
	}
	return mat.DenseCopyOf(m), nil
}

func (s *MemoryMatrixStore) SaveMatrix(ctx context.Context, key string, m *mat.Dense) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.matrices[key] = mat.DenseCopyOf(m)
	return nil
}

func (s *MemoryMatrixStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.matrices)
}

// ModelInitializer hands out initial factor matrices and persists trained
// ones. Random matrices come from a seeded source, so two initializers
// with the same seed produce the same sequence.
type ModelInitializer struct {
	hyper        *config.Hyperparameters
	nIterations  int
	store        MatrixStore
	loadMatrices bool
	seed         int64
	logger       *logrus.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

type InitializerOption func(*ModelInitializer)

func WithStore(store MatrixStore) InitializerOption {
	return func(mi *ModelInitializer) {
		mi.store = store
	}
}

func WithSeed(seed int64) InitializerOption {
	return func(mi *ModelInitializer) {
		mi.seed = seed
	}
}

// WithLoadMatrices makes LoadMatrix prefer previously saved matrices.
func WithLoadMatrices(load bool) InitializerOption {
	return func(mi *ModelInitializer) {
		mi.loadMatrices = load
	}
}

func WithLogger(logger *logrus.Logger) InitializerOption {
	return func(mi *ModelInitializer) {
		mi.logger = logger
	}
}

func NewModelInitializer(hyper config.Hyperparameters, nIterations int, opts ...InitializerOption) *ModelInitializer {
	mi := &ModelInitializer{
		hyper:       &hyper,
		nIterations: nIterations,
		seed:        config.DefaultOptions().RandomSeed,
		logger:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(mi)
	}
	mi.rng = rand.New(rand.NewSource(mi.seed))
	return mi
}

// Config returns the hyperparameters. Changes made through the pointer are
// picked up by recommenders built afterwards and by matrix keys.
func (mi *ModelInitializer) Config() *config.Hyperparameters {
	return mi.hyper
}

func (mi *ModelInitializer) NIterations() int {
	return mi.nIterations
}

func (mi *ModelInitializer) Seed() int64 {
	return mi.seed
}

// RandomMatrix returns a rows × cols matrix with entries drawn from [0,1).
func (mi *ModelInitializer) RandomMatrix(rows, cols int) *mat.Dense {
	mi.mu.Lock()
	defer mi.mu.Unlock()

	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = mi.rng.Float64()
	}
	return mat.NewDense(rows, cols, data)
}

// LoadMatrix returns the stored matrix for name when loading is enabled and
// a matrix of the right shape exists, otherwise a fresh random one. The
// second return value reports whether the matrix came from the store.
func (mi *ModelInitializer) LoadMatrix(ctx context.Context, name string, rows, cols int) (*mat.Dense, bool) {
	if mi.loadMatrices && mi.store != nil {
		key := mi.MatrixKey(name, rows, cols)
		m, err := mi.store.LoadMatrix(ctx, key)
		switch {
		case err == nil && checkShape(m, rows, cols) == nil:
			mi.logger.WithFields(logrus.Fields{
				"matrix": name,
				"key":    key,
			}).Debug("Loaded stored matrix")
			return m, true
		case err == nil:
			mi.logger.WithFields(logrus.Fields{
				"matrix": name,
				"key":    key,
			}).Warn("Stored matrix has unexpected shape, reinitializing")
		case !errors.Is(err, ErrMatrixNotFound):
			mi.logger.WithError(err).WithField("matrix", name).Warn("Failed to load stored matrix")
		}
	}
	return mi.RandomMatrix(rows, cols), false
}

// SaveMatrix persists a trained matrix. Without a store it is a no-op.
func (mi *ModelInitializer) SaveMatrix(ctx context.Context, name string, m *mat.Dense) error {
	if mi.store == nil {
		return nil
	}
	rows, cols := m.Dims()
	key := mi.MatrixKey(name, rows, cols)
	if err := mi.store.SaveMatrix(ctx, key, m); err != nil {
		return fmt.Errorf("failed to save matrix %s: %w", name, err)
	}
	mi.logger.WithFields(logrus.Fields{
		"matrix": name,
		"key":    key,
		"rows":   rows,
		"cols":   cols,
	}).Debug("Saved matrix")
	return nil
}

// MatrixKey identifies a matrix by its name, shape and the training
// configuration that produced it.
func (mi *ModelInitializer) MatrixKey(name string, rows, cols int) string {
	hasher := sha256.New()
	fmt.Fprintf(hasher, "n_factors:%d;_lambda:%g;embedding_weight:%g;embedding_dimensions:%d;",
		mi.hyper.NFactors, mi.hyper.Lambda, mi.hyper.EmbeddingWeight, mi.hyper.EmbeddingDimensions)
	fmt.Fprintf(hasher, "n_iterations:%d;rows:%d;cols:%d", mi.nIterations, rows, cols)

	return fmt.Sprintf("%s:%x", name, hasher.Sum(nil))[:len(name)+1+16]
}
