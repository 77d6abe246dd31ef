package hasher

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/TraceLTRC/pdrive-cli/errs"

	"github.com/cespare/xxhash/v2"
)

const (
	defaultFingerprintSampleSize = 64 * 1024
)

// Fingerprint is a cheap identity of a local file: size, mtime and the first
// and last sample bytes. Resuming a session against a changed file is refused.
func Fingerprint(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errs.Wrap(errs.KindIO, "fingerprint", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return 0, errs.Wrap(errs.KindIO, "fingerprint", err)
	}
	d := xxhash.New()
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(info.Size()))
	_, _ = d.Write(buf)
	binary.BigEndian.PutUint64(buf, uint64(info.ModTime().UnixNano()))
	_, _ = d.Write(buf)

	sample := int64(defaultFingerprintSampleSize)
	if info.Size() < sample {
		sample = info.Size()
	}
	if _, err := io.Copy(d, io.NewSectionReader(f, 0, sample)); err != nil {
		return 0, errs.Wrap(errs.KindIO, "fingerprint", err)
	}
	if info.Size() > sample {
		if _, err := io.Copy(d, io.NewSectionReader(f, info.Size()-sample, sample)); err != nil {
			return 0, errs.Wrap(errs.KindIO, "fingerprint", err)
		}
	}
	return d.Sum64(), nil
}
