// Package hog computes Histogram of Oriented Gradients descriptors.
//
// The layout and arithmetic follow scikit-image's feature.hog with unsigned
// gradients and L2-Hys block normalisation, so vectors produced here can be fed
// to classifiers trained on scikit-image features.
package hog

import (
	"errors"
	"fmt"
	"math"
)

const (
	l2HysClip = 0.2
	eps       = 1e-5
)

var ErrImageTooSmall = errors.New("image too small for a single HOG block")

type Params struct {
	Orientations  int
	PixelsPerCell int
	CellsPerBlock int
}

// Default is 8 orientation bins, 8x8 pixel cells and 2x2 cell blocks.
var Default = Params{Orientations: 8, PixelsPerCell: 8, CellsPerBlock: 2}

func (p Params) validate() error {
	if p.Orientations <= 0 || p.PixelsPerCell <= 0 || p.CellsPerBlock <= 0 {
		return fmt.Errorf("invalid HOG params %+v", p)
	}
	return nil
}

func (p Params) grid(width, height int) (cellsX, cellsY, blocksX, blocksY int) {
	cellsX = width / p.PixelsPerCell
	cellsY = height / p.PixelsPerCell
	blocksX = cellsX - p.CellsPerBlock + 1
	blocksY = cellsY - p.CellsPerBlock + 1
	return
}

// Length returns the descriptor length for an image of the given size, or 0
// when not even one block fits.
func (p Params) Length(width, height int) int {
	if p.validate() != nil {
		return 0
	}
	_, _, bx, by := p.grid(width, height)
	if bx <= 0 || by <= 0 {
		return 0
	}
	return bx * by * p.CellsPerBlock * p.CellsPerBlock * p.Orientations
}

// Compute returns the descriptor of a row-major 8-bit grayscale image.
// Features are ordered by block row, block column, cell row, cell column and
// orientation bin.
func Compute(pix []uint8, width, height int, p Params) ([]float64, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 || len(pix) != width*height {
		return nil, fmt.Errorf("hog: got %d pixels for a %dx%d image", len(pix), width, height)
	}
	n := p.Length(width, height)
	if n == 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrImageTooSmall, width, height)
	}

	magnitude, orientation := gradients(pix, width, height)
	cells := cellHistograms(magnitude, orientation, width, height, p)
	return normaliseBlocks(cells, width, height, p, n), nil
}

// gradients uses central differences with the first and last row/column left
// at zero.
func gradients(pix []uint8, width, height int) (magnitude, orientation []float64) {
	magnitude = make([]float64, len(pix))
	orientation = make([]float64, len(pix))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var gRow, gCol float64
			if y > 0 && y < height-1 {
				gRow = float64(pix[(y+1)*width+x]) - float64(pix[(y-1)*width+x])
			}
			if x > 0 && x < width-1 {
				gCol = float64(pix[y*width+x+1]) - float64(pix[y*width+x-1])
			}
			i := y*width + x
			magnitude[i] = math.Hypot(gRow, gCol)
			o := math.Mod(math.Atan2(gRow, gCol)*(180/math.Pi), 180)
			if o < 0 {
				o += 180
			}
			orientation[i] = o
		}
	}
	return magnitude, orientation
}

// cellHistograms returns [cellY][cellX][bin] flattened. Each bin holds the mean
// gradient magnitude of the cell's pixels whose orientation falls in
// [bin*step, (bin+1)*step).
func cellHistograms(magnitude, orientation []float64, width, height int, p Params) []float64 {
	cellsX, cellsY, _, _ := p.grid(width, height)
	step := 180.0 / float64(p.Orientations)
	area := float64(p.PixelsPerCell * p.PixelsPerCell)
	hist := make([]float64, cellsX*cellsY*p.Orientations)

	for cy := 0; cy < cellsY; cy++ {
		for cx := 0; cx < cellsX; cx++ {
			base := (cy*cellsX + cx) * p.Orientations
			for bin := 0; bin < p.Orientations; bin++ {
				lo := step * float64(bin)
				hi := step * float64(bin+1)
				var total float64
				for y := cy * p.PixelsPerCell; y < (cy+1)*p.PixelsPerCell; y++ {
					for x := cx * p.PixelsPerCell; x < (cx+1)*p.PixelsPerCell; x++ {
						o := orientation[y*width+x]
						if o >= hi || o < lo {
							continue
						}
						total += magnitude[y*width+x]
					}
				}
				hist[base+bin] = total / area
			}
		}
	}
	return hist
}

func normaliseBlocks(cells []float64, width, height int, p Params, n int) []float64 {
	cellsX, _, blocksX, blocksY := p.grid(width, height)
	out := make([]float64, 0, n)
	block := make([]float64, 0, p.CellsPerBlock*p.CellsPerBlock*p.Orientations)

	for by := 0; by < blocksY; by++ {
		for bx := 0; bx < blocksX; bx++ {
			block = block[:0]
			for cy := by; cy < by+p.CellsPerBlock; cy++ {
				for cx := bx; cx < bx+p.CellsPerBlock; cx++ {
					base := (cy*cellsX + cx) * p.Orientations
					block = append(block, cells[base:base+p.Orientations]...)
				}
			}
			out = append(out, l2Hys(block)...)
		}
	}
	return out
}

func l2Hys(block []float64) []float64 {
	out := make([]float64, len(block))
	norm := math.Sqrt(sumSquares(block) + eps*eps)
	for i, v := range block {
		out[i] = math.Min(v/norm, l2HysClip)
	}
	norm = math.Sqrt(sumSquares(out) + eps*eps)
	for i := range out {
		out[i] /= norm
	}
	return out
}

func sumSquares(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	return s
}
