package pfs

import (
	"io"

	"github.com/WendelHime/peerfs/internal/shared/models"
)

// Filler supplies the content of missing blocks. Writing fewer than blockLen bytes
// without an error is a soft failure: the block stays missing.
type Filler interface {
	Provide(block uint64, blockLen int, dst io.Writer) error
}

// FillerFunc adapts a function to the Filler interface.
type FillerFunc func(block uint64, blockLen int, dst io.Writer) error

func (f FillerFunc) Provide(block uint64, blockLen int, dst io.Writer) error {
	return f(block, blockLen, dst)
}

// ZeroFiller fills every block with zeros.
type ZeroFiller struct{}

var zeroBlock [models.BlockLen]byte

func (ZeroFiller) Provide(_ uint64, blockLen int, dst io.Writer) error {
	_, err := dst.Write(zeroBlock[:blockLen])
	return err
}

// SourceFiller serves blocks from a complete copy of the file.
type SourceFiller struct {
	Source io.ReaderAt
}

func NewSourceFiller(source io.ReaderAt) *SourceFiller {
	return &SourceFiller{Source: source}
}

// Provide copies the block from the source. A source shorter than the block
// produces a short write, not an error.
func (f *SourceFiller) Provide(block uint64, blockLen int, dst io.Writer) error {
	section := io.NewSectionReader(f.Source, int64(models.BlockOffset(block)), int64(blockLen))
	_, err := io.Copy(dst, section)
	return err
}

// limitedWriter accepts at most n bytes, it is what a Filler writes through.
type limitedWriter struct {
	w io.Writer
	n int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if len(p) > lw.n {
		n, err := lw.w.Write(p[:lw.n])
		lw.n -= n
		if err == nil {
			err = io.ErrShortWrite
		}
		return n, err
	}
	n, err := lw.w.Write(p)
	lw.n -= n
	return n, err
}
