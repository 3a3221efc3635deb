package utils

import (
	"testing"

	"go.viam.com/test"
)

func TestHammingDistance(t *testing.T) {
	d, err := HammingDistance([]float64{1, 0, 1, 0}, []float64{1, 1, 1, 0})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d, test.ShouldEqual, 1)

	d, err = HammingDistance([]float64{1, 0}, []float64{1, 0})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d, test.ShouldEqual, 0)

	_, err = HammingDistance([]float64{1}, []float64{1, 0})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPairwiseHammingDistances(t *testing.T) {
	pts1 := [][]float64{{0, 0, 0}, {1, 1, 1}}
	pts2 := [][]float64{{0, 0, 1}, {1, 1, 1}}
	distances, err := PairwiseHammingDistances(pts1, pts2)
	test.That(t, err, test.ShouldBeNil)
	r, c := distances.Dims()
	test.That(t, r, test.ShouldEqual, 2)
	test.That(t, c, test.ShouldEqual, 2)
	test.That(t, distances.At(0, 0), test.ShouldEqual, 1)
	test.That(t, distances.At(0, 1), test.ShouldEqual, 3)
	test.That(t, distances.At(1, 0), test.ShouldEqual, 2)
	test.That(t, distances.At(1, 1), test.ShouldEqual, 0)

	_, err = PairwiseHammingDistances(nil, pts2)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestGetArgMinDistancesPerRow(t *testing.T) {
	distances, err := PairwiseHammingDistances(
		[][]float64{{0, 0, 0}, {1, 1, 1}},
		[][]float64{{0, 0, 1}, {1, 1, 1}},
	)
	test.That(t, err, test.ShouldBeNil)
	indices := GetArgMinDistancesPerRow(distances)
	test.That(t, indices, test.ShouldResemble, []int{0, 1})
}
