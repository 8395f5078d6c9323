package models

// BlockLen is the size of a partial file block.
const BlockLen = 4096

// BlockCount returns the number of blocks needed to hold size bytes.
func BlockCount(size uint64) uint64 {
	return (size + BlockLen - 1) / BlockLen
}

// BlockOffset returns the byte offset of a block.
func BlockOffset(block uint64) uint64 {
	return block * BlockLen
}

// BlockLength returns the length of a block, the last one may be short, 0 past the end.
func BlockLength(size, block uint64) int {
	offset := BlockOffset(block)
	if offset >= size {
		return 0
	}
	return int(min(size-offset, BlockLen))
}
