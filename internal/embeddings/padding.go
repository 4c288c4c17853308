package embeddings

import (
	"fmt"
)

// PaddingPolicy pads every sequence of a batch to the length of the longest
// sequence in that batch. It is fixed when a pipeline is built.
type PaddingPolicy struct {
	PadID int64
}

// Width returns the padded width for the given sequences.
func (p PaddingPolicy) Width(seqs [][]int64) int {
	width := 0
	for _, s := range seqs {
		if len(s) > width {
			width = len(s)
		}
	}
	return width
}

// Pad returns a rectangular copy of seqs right-padded with PadID.
func (p PaddingPolicy) Pad(seqs [][]int64) ([][]int64, error) {
	width := p.Width(seqs)
	if width == 0 {
		return nil, fmt.Errorf("%w: batch has no tokens", ErrTokenizationFailed)
	}

	padded := make([][]int64, len(seqs))
	for i, s := range seqs {
		row := make([]int64, width)
		n := copy(row, s)
		for j := n; j < width; j++ {
			row[j] = p.PadID
		}
		padded[i] = row
	}
	return padded, nil
}
