package recommender

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// eps keeps multiplicative updates and normalizations away from division by zero.
const eps = 1e-9

func checkShape(m mat.Matrix, rows, cols int) error {
	r, c := m.Dims()
	if r != rows || c != cols {
		return fmt.Errorf("%w: expected %dx%d, got %dx%d", ErrShapeMismatch, rows, cols, r, c)
	}
	return nil
}

func sameShape(a, b mat.Matrix) error {
	r, c := b.Dims()
	return checkShape(a, r, c)
}

// normalizeRows clamps negative entries to zero and scales each row to sum
// to one. Rows with no mass become uniform.
func normalizeRows(m *mat.Dense) {
	rows, cols := m.Dims()
	for i := 0; i < rows; i++ {
		row := m.RawRowView(i)
		for j := range row {
			if row[j] < 0 || math.IsNaN(row[j]) {
				row[j] = 0
			}
		}
		sum := floats.Sum(row)
		if sum <= eps {
			for j := range row {
				row[j] = 1 / float64(cols)
			}
			continue
		}
		floats.Scale(1/sum, row)
	}
}

// clampUnit bounds every entry to [0,1].
func clampUnit(m *mat.Dense) {
	m.Apply(func(_, _ int, v float64) float64 {
		return math.Max(0, math.Min(1, v))
	}, m)
}

// userProfiles averages the topic distributions of the documents each
// user rated. Users without ratings get a uniform profile.
func userProfiles(ratings *mat.Dense, distribution *mat.Dense) *mat.Dense {
	users, docs := ratings.Dims()
	_, k := distribution.Dims()

	profiles := mat.NewDense(users, k, nil)
	for u := 0; u < users; u++ {
		profile := profiles.RawRowView(u)
		rated := 0
		for d := 0; d < docs; d++ {
			if ratings.At(u, d) <= 0 {
				continue
			}
			floats.Add(profile, distribution.RawRowView(d))
			rated++
		}
		if rated == 0 {
			for j := range profile {
				profile[j] = 1 / float64(k)
			}
			continue
		}
		floats.Scale(1/float64(rated), profile)
	}
	return profiles
}

// contentPredictions scores users against documents as the dot product of
// the user profile with the document distribution. Both are probability
// vectors, so scores lie in [0,1].
func contentPredictions(ratings *mat.Dense, distribution *mat.Dense) (*mat.Dense, error) {
	_, docs := ratings.Dims()
	distDocs, _ := distribution.Dims()
	if docs != distDocs {
		return nil, fmt.Errorf("%w: ratings cover %d documents, distribution %d", ErrShapeMismatch, docs, distDocs)
	}

	profiles := userProfiles(ratings, distribution)
	var predictions mat.Dense
	predictions.Mul(profiles, distribution.T())
	clampUnit(&predictions)
	return &predictions, nil
}

// multiplicativeUpdate sets a = a ∘ num / (den + eps).
func multiplicativeUpdate(a, num, den *mat.Dense) {
	a.Apply(func(i, j int, v float64) float64 {
		return v * num.At(i, j) / (den.At(i, j) + eps)
	}, a)
}

func cosine(a, b []float64) float64 {
	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na <= eps || nb <= eps {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}

// softmaxInPlace replaces v with its softmax.
func softmaxInPlace(v []float64) {
	if len(v) == 0 {
		return
	}
	peak := floats.Max(v)
	for i := range v {
		v[i] = math.Exp(v[i] - peak)
	}
	floats.Scale(1/floats.Sum(v), v)
}
