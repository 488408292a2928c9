// Package tensor provides the sparse matrix type shared by the text feature
// extractors and the estimators.
//
// CSR implements gonum's mat.Matrix so that sparse TF-IDF features can be
// passed anywhere a dense matrix is accepted. Estimators that know about CSR
// iterate only the stored entries of each row.
package tensor

import (
	"sort"

	"github.com/YuminosukeSato/newsclf/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// CSR is a compressed sparse row matrix. Column indices within a row are
// strictly increasing. The zero value is an empty 0x0 matrix.
type CSR struct {
	rows, cols int
	indptr     []int
	indices    []int
	data       []float64
}

var _ mat.Matrix = (*CSR)(nil)

// NewCSR builds a CSR matrix from its raw arrays. The slices are used
// without copying.
func NewCSR(rows, cols int, indptr, indices []int, data []float64) (*CSR, error) {
	if rows < 0 || cols < 0 {
		return nil, errors.NewValueError("NewCSR", "negative dimension")
	}
	if len(indptr) != rows+1 {
		return nil, errors.NewDimensionError("NewCSR", rows+1, len(indptr), 0)
	}
	if len(indices) != len(data) {
		return nil, errors.NewDimensionError("NewCSR", len(indices), len(data), 1)
	}
	if indptr[0] != 0 || indptr[rows] != len(data) {
		return nil, errors.NewValueError("NewCSR", "indptr does not span data")
	}
	for i := 0; i < rows; i++ {
		if indptr[i] > indptr[i+1] {
			return nil, errors.NewValueError("NewCSR", "indptr must be non-decreasing")
		}
		for k := indptr[i]; k < indptr[i+1]; k++ {
			if indices[k] < 0 || indices[k] >= cols {
				return nil, errors.NewValueError("NewCSR", "column index out of range")
			}
			if k > indptr[i] && indices[k] <= indices[k-1] {
				return nil, errors.NewValueError("NewCSR", "column indices must be strictly increasing within a row")
			}
		}
	}
	return &CSR{rows: rows, cols: cols, indptr: indptr, indices: indices, data: data}, nil
}

// FromMatrix converts any matrix into CSR, skipping zero entries.
// A *CSR is returned as is.
func FromMatrix(m mat.Matrix) *CSR {
	if c, ok := m.(*CSR); ok {
		return c
	}
	r, c := m.Dims()
	b := NewCSRBuilder(c)
	idx := make([]int, 0, c)
	val := make([]float64, 0, c)
	for i := 0; i < r; i++ {
		idx, val = idx[:0], val[:0]
		for j := 0; j < c; j++ {
			if v := m.At(i, j); v != 0 {
				idx = append(idx, j)
				val = append(val, v)
			}
		}
		b.AppendSorted(idx, val)
	}
	return b.Build()
}

// Dims returns the number of rows and columns.
func (m *CSR) Dims() (int, int) { return m.rows, m.cols }

// At returns the element at row i, column j.
func (m *CSR) At(i, j int) float64 {
	if i < 0 || i >= m.rows {
		panic(mat.ErrRowAccess)
	}
	if j < 0 || j >= m.cols {
		panic(mat.ErrColAccess)
	}
	lo, hi := m.indptr[i], m.indptr[i+1]
	k := lo + sort.SearchInts(m.indices[lo:hi], j)
	if k < hi && m.indices[k] == j {
		return m.data[k]
	}
	return 0
}

// T returns an implicit transpose.
func (m *CSR) T() mat.Matrix { return mat.Transpose{Matrix: m} }

// NNZ returns the number of stored entries.
func (m *CSR) NNZ() int { return len(m.data) }

// Row returns the column indices and values stored for row i.
// The returned slices alias the matrix and must not be modified.
func (m *CSR) Row(i int) ([]int, []float64) {
	lo, hi := m.indptr[i], m.indptr[i+1]
	return m.indices[lo:hi], m.data[lo:hi]
}

// DoRowNonZero calls fn for every stored entry of row i.
func (m *CSR) DoRowNonZero(i int, fn func(j int, v float64)) {
	for k := m.indptr[i]; k < m.indptr[i+1]; k++ {
		fn(m.indices[k], m.data[k])
	}
}

// RowDot returns the dot product of row i with a dense vector of length cols.
func (m *CSR) RowDot(i int, w []float64) float64 {
	var s float64
	for k := m.indptr[i]; k < m.indptr[i+1]; k++ {
		s += m.data[k] * w[m.indices[k]]
	}
	return s
}

// RowSubset returns a new matrix made of the given rows, in order.
// Rows may repeat.
func (m *CSR) RowSubset(rows []int) *CSR {
	b := NewCSRBuilder(m.cols)
	for _, i := range rows {
		b.AppendSorted(m.Row(i))
	}
	return b.Build()
}

// ToDense materializes the matrix.
func (m *CSR) ToDense() *mat.Dense {
	if m.rows == 0 || m.cols == 0 {
		return &mat.Dense{}
	}
	d := mat.NewDense(m.rows, m.cols, nil)
	for i := 0; i < m.rows; i++ {
		for k := m.indptr[i]; k < m.indptr[i+1]; k++ {
			d.Set(i, m.indices[k], m.data[k])
		}
	}
	return d
}

// CSRBuilder accumulates rows for a CSR matrix with a fixed column count.
type CSRBuilder struct {
	cols    int
	indptr  []int
	indices []int
	data    []float64
}

// NewCSRBuilder returns a builder for matrices with cols columns.
func NewCSRBuilder(cols int) *CSRBuilder {
	return &CSRBuilder{cols: cols, indptr: []int{0}}
}

// AppendSorted appends a row whose column indices are already strictly
// increasing. Zero values are dropped.
func (b *CSRBuilder) AppendSorted(indices []int, values []float64) {
	for k, j := range indices {
		if values[k] == 0 {
			continue
		}
		b.indices = append(b.indices, j)
		b.data = append(b.data, values[k])
	}
	b.indptr = append(b.indptr, len(b.data))
}

// AppendMap appends a row given as column -> value.
func (b *CSRBuilder) AppendMap(row map[int]float64) {
	cols := make([]int, 0, len(row))
	for j := range row {
		cols = append(cols, j)
	}
	sort.Ints(cols)
	vals := make([]float64, len(cols))
	for k, j := range cols {
		vals[k] = row[j]
	}
	b.AppendSorted(cols, vals)
}

// Rows returns the number of rows appended so far.
func (b *CSRBuilder) Rows() int { return len(b.indptr) - 1 }

// Build returns the accumulated matrix. The builder must not be reused.
func (b *CSRBuilder) Build() *CSR {
	return &CSR{
		rows:    len(b.indptr) - 1,
		cols:    b.cols,
		indptr:  b.indptr,
		indices: b.indices,
		data:    b.data,
	}
}
