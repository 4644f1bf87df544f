// Package cvmat converts between Go greyscale images and OpenCV matrices.
package cvmat

import (
	"fmt"
	"image"
	"runtime"
	"sync"

	"gocv.io/x/gocv"
)

// FromGray converts a greyscale image to a single-channel CV_8U Mat
// (parallelized). The caller owns the returned Mat.
func FromGray(img *image.Gray) gocv.Mat {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	mat := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8U)

	forStripes(height, func(yStart, yEnd int) {
		for y := yStart; y < yEnd; y++ {
			row := img.Pix[img.PixOffset(bounds.Min.X, bounds.Min.Y+y):]
			for x := 0; x < width; x++ {
				mat.SetUCharAt(y, x, row[x])
			}
		}
	})

	return mat
}

// ToGray converts a single-channel CV_8U Mat to a greyscale image
// (parallelized).
func ToGray(mat gocv.Mat) (*image.Gray, error) {
	if mat.Empty() {
		return nil, fmt.Errorf("empty mat")
	}
	if mat.Type() != gocv.MatTypeCV8U {
		return nil, fmt.Errorf("unsupported mat type %v, want CV_8U", mat.Type())
	}

	h := mat.Rows()
	w := mat.Cols()
	img := image.NewGray(image.Rect(0, 0, w, h))

	forStripes(h, func(yStart, yEnd int) {
		for y := yStart; y < yEnd; y++ {
			rowOffset := y * img.Stride
			for x := 0; x < w; x++ {
				img.Pix[rowOffset+x] = mat.GetUCharAt(y, x)
			}
		}
	})

	return img, nil
}

// FromRows packs equal-length byte rows into a CV_8U Mat, one row per
// entry. The caller owns the returned Mat.
func FromRows(rows [][]byte) (gocv.Mat, error) {
	if len(rows) == 0 {
		return gocv.NewMat(), nil
	}
	cols := len(rows[0])
	mat := gocv.NewMatWithSize(len(rows), cols, gocv.MatTypeCV8U)
	for r, row := range rows {
		if len(row) != cols {
			mat.Close()
			return gocv.Mat{}, fmt.Errorf("row %d has %d bytes, want %d", r, len(row), cols)
		}
		for c, v := range row {
			mat.SetUCharAt(r, c, v)
		}
	}
	return mat, nil
}

// Rows copies each row of a CV_8U Mat into its own byte slice.
func Rows(mat gocv.Mat) ([][]byte, error) {
	if mat.Empty() {
		return nil, nil
	}
	if mat.Type() != gocv.MatTypeCV8U {
		return nil, fmt.Errorf("unsupported mat type %v, want CV_8U", mat.Type())
	}
	rows, cols := mat.Rows(), mat.Cols()
	out := make([][]byte, rows)
	for r := 0; r < rows; r++ {
		row := make([]byte, cols)
		for c := 0; c < cols; c++ {
			row[c] = mat.GetUCharAt(r, c)
		}
		out[r] = row
	}
	return out, nil
}

// forStripes splits [0, height) into one horizontal stripe per CPU and runs
// fn on each concurrently.
func forStripes(height int, fn func(yStart, yEnd int)) {
	numWorkers := runtime.NumCPU()
	rowsPerWorker := (height + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		startY := w * rowsPerWorker
		endY := startY + rowsPerWorker
		if endY > height {
			endY = height
		}
		if startY >= height {
			break
		}

		wg.Add(1)
		go func(yStart, yEnd int) {
			defer wg.Done()
			fn(yStart, yEnd)
		}(startY, endY)
	}
	wg.Wait()
}
