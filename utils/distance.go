// Package utils contains small numeric helpers shared across the engines.
package utils

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// HammingDistance computes the hamming distance between two vectors that only
// contain zeros and ones.
func HammingDistance(p1, p2 []float64) (float64, error) {
	if len(p1) != len(p2) {
		return -1, errors.Errorf("descriptors must have same length (%d != %d)", len(p1), len(p2))
	}
	distance := 0
	for i := range p1 {
		if p1[i] != p2[i] {
			distance++
		}
	}
	return float64(distance), nil
}

// PairwiseHammingDistances computes the pairwise hamming distances between two
// sets of binary vectors, returned as a len(pts1) x len(pts2) matrix.
func PairwiseHammingDistances(pts1, pts2 [][]float64) (*mat.Dense, error) {
	m := len(pts1)
	n := len(pts2)
	if m == 0 || n == 0 {
		return nil, errors.New("cannot compute distances between empty point sets")
	}
	distances := mat.NewDense(m, n, nil)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			d, err := HammingDistance(pts1[i], pts2[j])
			if err != nil {
				return nil, err
			}
			distances.Set(i, j, d)
		}
	}
	return distances, nil
}

// GetArgMinDistancesPerRow returns, for each row of the distance matrix, the
// column index holding the minimum distance.
func GetArgMinDistancesPerRow(distances *mat.Dense) []int {
	nRows, _ := distances.Dims()
	indices := make([]int, nRows)
	for i := 0; i < nRows; i++ {
		row := mat.Row(nil, i, distances)
		indices[i] = floats.MinIdx(row)
	}
	return indices
}
