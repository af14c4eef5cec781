package mathutil

import (
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Vec is a float64 vector.
type Vec = []float64

// Mat is a 2D float64 matrix stored as row-major [][]float64.
type Mat = [][]float64

// NewMat creates a rows x cols matrix initialized to zero.
func NewMat(rows, cols int) Mat {
	m := make(Mat, rows)
	data := make([]float64, rows*cols)
	for i := range m {
		m[i] = data[i*cols : (i+1)*cols]
	}
	return m
}

// Argmax returns the index of the largest element of v. The first index wins ties.
// Returns -1 for an empty vector.
func Argmax(v Vec) int {
	if len(v) == 0 {
		return -1
	}
	return floats.MaxIdx(v)
}

// TopN returns the indices of the n largest elements of v in descending order
// of value. Equal values keep index order.
func TopN(v Vec, n int) []int {
	idx := make([]int, len(v))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return v[idx[a]] > v[idx[b]]
	})
	if n < len(idx) {
		idx = idx[:n]
	}
	return idx
}
