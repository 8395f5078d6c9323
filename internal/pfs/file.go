// Package pfs stores files block by block, so a file can be read before all of it is present.
package pfs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/WendelHime/peerfs/internal/ranges"
	"github.com/WendelHime/peerfs/internal/shared/models"
)

// ErrInvalidData is returned when reading a block the filler could not supply.
var ErrInvalidData = errors.New("invalid block data")

// footerHeaderLen is the footer without ranges: size, range count and footer length.
const footerHeaderLen = 24

type blockState uint8

const (
	blockUnknown blockState = iota
	blockInvalid
	blockValid
)

// PartialFile is a file of a fixed size whose blocks are filled on demand. While partial,
// the list of present blocks is kept in a footer after the content. Once completed the
// footer is removed and the file is a plain file. A PartialFile is not safe for concurrent use.
type PartialFile struct {
	file   *os.File
	filler Filler
	size   uint64
	dirty  bool

	// blocks is nil once the file is full.
	blocks *ranges.Vec[uint64]
	// Cursor and state of the block under it, used while partial.
	pos      uint64
	state    blockState
	blockEnd uint64
}

// Create creates or truncates the file at path, with no block present.
func Create(path string, size uint64, filler Filler) (*PartialFile, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	pf := &PartialFile{
		file:   file,
		filler: filler,
		size:   size,
		dirty:  true,
		blocks: ranges.New[uint64](),
	}
	if err := pf.Flush(); err != nil {
		file.Close()
		return nil, err
	}
	return pf, nil
}

// Open opens an existing file. A file without a consistent footer is opened as full.
func Open(path string, filler Filler) (*PartialFile, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	length := uint64(info.Size())

	pf := &PartialFile{file: file, filler: filler, size: length}
	size, blocks, err := readFooter(file, length)
	if err != nil {
		file.Close()
		return nil, err
	}
	if blocks != nil {
		pf.size = size
		pf.blocks = blocks
	}
	return pf, nil
}

// readFooter returns nil blocks when the file has no valid footer.
func readFooter(file io.ReaderAt, length uint64) (uint64, *ranges.Vec[uint64], error) {
	if length < footerHeaderLen {
		return 0, nil, nil
	}
	var buf [16]byte
	if _, err := file.ReadAt(buf[:8], int64(length-8)); err != nil {
		return 0, nil, err
	}
	footerLen := binary.LittleEndian.Uint64(buf[:8])
	if footerLen < footerHeaderLen || footerLen > length {
		return 0, nil, nil
	}

	start := length - footerLen
	if _, err := file.ReadAt(buf[:16], int64(start)); err != nil {
		return 0, nil, err
	}
	size := binary.LittleEndian.Uint64(buf[:8])
	count := binary.LittleEndian.Uint64(buf[8:16])
	if size != start {
		return 0, nil, nil
	}
	// The declared ranges must fill the rest of the footer exactly.
	rangesLen := footerLen - footerHeaderLen
	if rangesLen%16 != 0 || count != rangesLen/16 {
		return 0, nil, nil
	}

	raw := make([]byte, rangesLen)
	if _, err := file.ReadAt(raw, int64(start+16)); err != nil {
		return 0, nil, err
	}
	total := models.BlockCount(size)
	blocks := ranges.New[uint64]()
	for i := 0; i < len(raw); i += 16 {
		from := binary.LittleEndian.Uint64(raw[i:])
		to := min(binary.LittleEndian.Uint64(raw[i+8:]), total)
		// Empty or out of bounds ranges are dropped, the blocks get filled again.
		if from < to {
			blocks.Push(from, to)
		}
	}
	return size, blocks, nil
}

func (pf *PartialFile) Name() string {
	return pf.file.Name()
}

// Size returns the logical size of the file, without footer.
func (pf *PartialFile) Size() uint64 {
	return pf.size
}

func (pf *PartialFile) IsPartial() bool {
	return pf.blocks != nil
}

func (pf *PartialFile) IsFull() bool {
	return pf.blocks == nil
}

func (pf *PartialFile) BlockCount() uint64 {
	return models.BlockCount(pf.size)
}

// Blocks returns the ranges of present blocks, nil when the file is full.
func (pf *PartialFile) Blocks() []ranges.Range[uint64] {
	if pf.blocks == nil {
		return nil
	}
	return pf.blocks.Ranges()
}

// MissingBlocks returns the ranges of blocks not present yet.
func (pf *PartialFile) MissingBlocks() []ranges.Range[uint64] {
	if pf.blocks == nil {
		return nil
	}
	return pf.blocks.Missing(0, pf.BlockCount())
}

// HasAllBlocks tells if the file can be completed.
func (pf *PartialFile) HasAllBlocks() bool {
	return pf.blocks == nil || pf.blocks.Covers(0, pf.BlockCount())
}

// Read reads from the block under the cursor, asking the filler for it first if it is
// missing. A single read never crosses a block boundary.
func (pf *PartialFile) Read(p []byte) (int, error) {
	if pf.blocks == nil {
		return pf.file.Read(p)
	}
	if pf.pos >= pf.size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	if pf.state == blockUnknown {
		if err := pf.loadBlock(); err != nil {
			return 0, err
		}
	}
	if pf.state != blockValid {
		return 0, fmt.Errorf("%w: block %d", ErrInvalidData, pf.pos/models.BlockLen)
	}

	want := min(uint64(len(p)), pf.blockEnd-pf.pos)
	n, err := pf.file.ReadAt(p[:want], int64(pf.pos))
	pf.pos += uint64(n)
	if pf.pos >= pf.blockEnd {
		pf.state = blockUnknown
	}
	if errors.Is(err, io.EOF) && n > 0 {
		err = nil
	}
	return n, err
}

func (pf *PartialFile) loadBlock() error {
	block := pf.pos / models.BlockLen
	blockLen := models.BlockLength(pf.size, block)
	offset := models.BlockOffset(block)
	pf.blockEnd = offset + uint64(blockLen)

	if pf.blocks.Contains(block) {
		pf.state = blockValid
		return nil
	}

	dst := &limitedWriter{w: io.NewOffsetWriter(pf.file, int64(offset)), n: blockLen}
	err := pf.filler.Provide(block, blockLen, dst)
	if err != nil {
		pf.state = blockInvalid
		return fmt.Errorf("%w: block %d: %w", ErrInvalidData, block, err)
	}
	if dst.n != 0 {
		pf.state = blockInvalid
		return fmt.Errorf("%w: block %d: filled %d of %d bytes", ErrInvalidData, block, blockLen-dst.n, blockLen)
	}

	pf.state = blockValid
	pf.blocks.Push(block, block+1)
	pf.dirty = true
	return nil
}

// Seek moves the cursor. While partial the cursor is clamped into [0, size].
func (pf *PartialFile) Seek(offset int64, whence int) (int64, error) {
	if pf.blocks == nil {
		return pf.file.Seek(offset, whence)
	}
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(pf.pos)
	case io.SeekEnd:
		base = int64(pf.size)
	default:
		return 0, fmt.Errorf("seek: invalid whence %d", whence)
	}
	abs := min(max(base+offset, 0), int64(pf.size))
	pf.pos = uint64(abs)
	pf.state = blockUnknown
	return abs, nil
}

// Flush writes the footer if blocks were added since the last flush.
func (pf *PartialFile) Flush() error {
	if pf.blocks == nil || !pf.dirty {
		return nil
	}
	present := pf.blocks.Ranges()
	footerLen := footerHeaderLen + 16*len(present)
	footer := make([]byte, 0, footerLen)
	footer = binary.LittleEndian.AppendUint64(footer, pf.size)
	footer = binary.LittleEndian.AppendUint64(footer, uint64(len(present)))
	for _, r := range present {
		footer = binary.LittleEndian.AppendUint64(footer, r.From)
		footer = binary.LittleEndian.AppendUint64(footer, r.To)
	}
	footer = binary.LittleEndian.AppendUint64(footer, uint64(footerLen))

	if _, err := pf.file.WriteAt(footer, int64(pf.size)); err != nil {
		return err
	}
	if err := pf.file.Truncate(int64(pf.size) + int64(footerLen)); err != nil {
		return err
	}
	pf.dirty = false
	return nil
}

// Complete removes the footer and makes the file full. It is not reversible and
// does not check that every block is present, see HasAllBlocks.
func (pf *PartialFile) Complete() error {
	if pf.blocks == nil {
		return nil
	}
	if err := pf.file.Truncate(int64(pf.size)); err != nil {
		return err
	}
	pf.blocks = nil
	pf.dirty = false
	_, err := pf.file.Seek(int64(pf.pos), io.SeekStart)
	return err
}

// Close flushes the footer, ignoring failures, and closes the file.
func (pf *PartialFile) Close() error {
	_ = pf.Flush()
	return pf.file.Close()
}
