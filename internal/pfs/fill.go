package pfs

import (
	"fmt"
	"io"

	"github.com/WendelHime/peerfs/internal/shared/models"
)

// ProgressFunc is called after each filled block with the number of present blocks.
type ProgressFunc func(present, total uint64)

// Fill asks the filler for every missing block of pf, in order, and stops at the
// first block that cannot be filled. The footer is flushed before returning.
func Fill(pf *PartialFile, progress ProgressFunc) error {
	if pf.IsFull() {
		return nil
	}
	total := pf.BlockCount()
	missing := pf.MissingBlocks()
	present := total
	for _, r := range missing {
		present -= r.To - r.From
	}

	var one [1]byte
	for _, r := range missing {
		for block := r.From; block < r.To; block++ {
			if _, err := pf.Seek(int64(models.BlockOffset(block)), io.SeekStart); err != nil {
				return err
			}
			if _, err := pf.Read(one[:]); err != nil {
				pf.Flush()
				return fmt.Errorf("fill block %d: %w", block, err)
			}
			present++
			if progress != nil {
				progress(present, total)
			}
		}
	}
	return pf.Flush()
}
