package recommender

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/temcen/hyprec/internal/config"
	"github.com/temcen/hyprec/internal/preprocessing"
)

// LDA2VecRecommender combines LDA topic mixtures with word embeddings.
// Documents and topics are embedded in the same word vector space, and the
// cosine affinity between them is blended into the LDA distribution with
// weight embedding_weight.
type LDA2VecRecommender struct {
	contentBase
	topicWords     *mat.Dense
	wordEmbeddings *mat.Dense
}

func NewLDA2VecRecommender(
	initializer *ModelInitializer,
	preprocessor *preprocessing.AbstractsPreprocessor,
	ratings *mat.Dense,
	evaluator *Evaluator,
	hyper config.Hyperparameters,
	nIterations int,
	logger *logrus.Logger,
) *LDA2VecRecommender {
	return &LDA2VecRecommender{
		contentBase: contentBase{
			baseRecommender: newBaseRecommender(initializer, ratings, evaluator, hyper, nIterations, logger),
			preprocessor:    preprocessor,
		},
	}
}

func (l *LDA2VecRecommender) Name() string {
	return config.ContentBasedLDA2Vec
}

func (l *LDA2VecRecommender) Train(ctx context.Context) error {
	if err := l.validate(); err != nil {
		return err
	}
	if l.hyper.EmbeddingWeight < 0 || l.hyper.EmbeddingWeight > 1 {
		return fmt.Errorf("embedding_weight must be in [0,1], got %g", l.hyper.EmbeddingWeight)
	}
	start := time.Now()

	theta, phi, err := fitLDA(ctx, l.preprocessor, l.nFactors, l.nIterations, l.initializer.Seed())
	if err != nil {
		return err
	}

	counts, err := l.preprocessor.TermDocumentMatrix()
	if err != nil {
		return fmt.Errorf("failed to build term matrix: %w", err)
	}

	embeddings, err := wordEmbeddings(counts, l.hyper.EmbeddingDimensions)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	affinity := topicAffinity(counts, phi, embeddings)

	weight := l.hyper.EmbeddingWeight
	var distribution mat.Dense
	distribution.Scale(1-weight, theta)
	affinity.Scale(weight, affinity)
	distribution.Add(&distribution, affinity)

	if err := l.initializer.SaveMatrix(ctx, "word_embeddings", embeddings); err != nil {
		l.logger.WithError(err).Warn("Failed to persist word embeddings")
	}

	l.topicWords = phi
	l.wordEmbeddings = embeddings
	if err := l.finish(&distribution); err != nil {
		return err
	}

	_, dims := embeddings.Dims()
	l.logger.WithFields(logrus.Fields{
		"algorithm":        l.Name(),
		"documents":        l.NItems(),
		"words":            l.preprocessor.NumVocab(),
		"n_factors":        l.nFactors,
		"embedding_dims":   dims,
		"embedding_weight": weight,
		"iterations":       l.nIterations,
		"duration":         time.Since(start),
	}).Info("Content-based model trained")
	return nil
}

// WordEmbeddings is the words × dimensions embedding matrix.
func (l *LDA2VecRecommender) WordEmbeddings() (*mat.Dense, error) {
	if l.wordEmbeddings == nil {
		return nil, ErrNotTrained
	}
	return l.wordEmbeddings, nil
}

func (l *LDA2VecRecommender) TopicWords() (*mat.Dense, error) {
	if l.topicWords == nil {
		return nil, ErrNotTrained
	}
	return l.topicWords, nil
}

func (l *LDA2VecRecommender) TopWords(n int) ([][]string, error) {
	if l.topicWords == nil {
		return nil, ErrNotTrained
	}
	return topWords(l.topicWords, l.preprocessor, n), nil
}

// wordEmbeddings factorizes the positive PMI matrix of words appearing in
// the same abstract. The embedding of a word is its row of U·sqrt(Σ),
// truncated to dims columns.
func wordEmbeddings(counts *mat.Dense, dims int) (*mat.Dense, error) {
	docs, words := counts.Dims()

	occurrence := mat.NewDense(docs, words, nil)
	occurrence.Apply(func(i, j int, _ float64) float64 {
		if counts.At(i, j) > 0 {
			return 1
		}
		return 0
	}, occurrence)

	var cooccurrence mat.Dense
	cooccurrence.Mul(occurrence.T(), occurrence)
	for i := 0; i < words; i++ {
		cooccurrence.Set(i, i, 0)
	}

	ppmi := positivePMI(&cooccurrence)

	var svd mat.SVD
	if ok := svd.Factorize(ppmi, mat.SVDThin); !ok {
		return nil, fmt.Errorf("failed to factorize co-occurrence matrix")
	}
	var u mat.Dense
	svd.UTo(&u)
	values := svd.Values(nil)

	if dims > len(values) {
		dims = len(values)
	}
	embeddings := mat.NewDense(words, dims, nil)
	for j := 0; j < dims; j++ {
		scale := math.Sqrt(values[j])
		for i := 0; i < words; i++ {
			embeddings.Set(i, j, u.At(i, j)*scale)
		}
	}
	return embeddings, nil
}

func positivePMI(cooccurrence *mat.Dense) *mat.Dense {
	words, _ := cooccurrence.Dims()
	total := mat.Sum(cooccurrence)

	marginals := make([]float64, words)
	for i := range marginals {
		marginals[i] = floats.Sum(cooccurrence.RawRowView(i))
	}

	ppmi := mat.NewDense(words, words, nil)
	if total <= 0 {
		return ppmi
	}
	for i := 0; i < words; i++ {
		for j := 0; j < words; j++ {
			joint := cooccurrence.At(i, j)
			if joint <= 0 {
				continue
			}
			pmi := math.Log(joint * total / (marginals[i] * marginals[j]))
			if pmi > 0 {
				ppmi.Set(i, j, pmi)
			}
		}
	}
	return ppmi
}

// topicAffinity embeds documents as the count-weighted mean of their word
// vectors and topics as the φ-weighted mean, and returns the row-wise
// softmax of their cosine similarities (documents × topics).
func topicAffinity(counts, phi, embeddings *mat.Dense) *mat.Dense {
	docs, _ := counts.Dims()
	topics, _ := phi.Dims()

	weights := mat.DenseCopyOf(counts)
	normalizeRows(weights)

	var docVectors, topicVectors mat.Dense
	docVectors.Mul(weights, embeddings)
	topicVectors.Mul(phi, embeddings)

	affinity := mat.NewDense(docs, topics, nil)
	for d := 0; d < docs; d++ {
		row := affinity.RawRowView(d)
		for t := 0; t < topics; t++ {
			row[t] = cosine(docVectors.RawRowView(d), topicVectors.RawRowView(t))
		}
		softmaxInPlace(row)
	}
	return affinity
}
