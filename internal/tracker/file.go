package tracker

import (
	"context"
	"os"

	"github.com/WendelHime/peerfs/internal/decoder"
	"github.com/WendelHime/peerfs/internal/shared/models"
)

// FileGetter reads peers from a bencoded seed file.
type FileGetter struct {
	d decoder.SeedDecoder
}

func NewFileGetter(d decoder.SeedDecoder) *FileGetter {
	return &FileGetter{d: d}
}

func (f *FileGetter) GetPeers(_ context.Context, path string, _ uint16) ([]models.Addr, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return f.d.Decode(file)
}

// SavePeers writes peers to a seed file that FileGetter can read back.
func SavePeers(path string, d decoder.SeedDecoder, peers []models.Addr) error {
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := d.Encode(file, peers); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
