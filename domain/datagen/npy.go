package datagen

import (
	"bufio"
	"fmt"
	"os"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

// depthMatrix lays a row-major depth buffer out as a rows x cols matrix.
func depthMatrix(data []float32, rows, cols int) (*mat.Dense, error) {
	if rows <= 0 || cols <= 0 || len(data) != rows*cols {
		return nil, fmt.Errorf("%d values for shape (%d, %d)", len(data), rows, cols)
	}
	vals := make([]float64, len(data))
	for i, v := range data {
		vals[i] = float64(v)
	}
	return mat.NewDense(rows, cols, vals), nil
}

// writeNPY stores a depth buffer as a (rows, cols) .npy array.
func writeNPY(path string, data []float32, rows, cols int) (err error) {
	m, err := depthMatrix(data, rows, cols)
	if err != nil {
		return fmt.Errorf("npy %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	w := bufio.NewWriter(f)
	if err := npyio.Write(w, m); err != nil {
		return err
	}
	return w.Flush()
}
