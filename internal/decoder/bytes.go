package decoder

import (
	"errors"
	"io"
)

// ReadBytes reads exactly n bytes. It returns io.EOF only when nothing was read,
// and io.ErrUnexpectedEOF when the stream ends inside the n bytes.
func ReadBytes(r io.Reader, n int) ([]byte, error) {
	result := make([]byte, n)
	readed := 0
	for readed < n {
		count, err := r.Read(result[readed:])
		readed += count
		if err != nil {
			if readed == n {
				break
			}
			if errors.Is(err, io.EOF) && readed > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}

	return result, nil
}
