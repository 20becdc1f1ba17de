// crc.go
//
// Integrity checks for pack data: the per-entry CRC-32 recorded in the idx
// and the SHA-1 trailer that closes each pack.

package hgbridge

import (
	"bytes"
	"crypto/sha1"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"slices"
)

var (
	ErrNonMonotonicOffsets     = errors.New("idx corrupt: non-monotonic offsets")
	ErrObjectExceedsPackBounds = errors.New("object extends past pack trailer")
	ErrPackTrailerCorrupt      = errors.New("pack trailer checksum mismatch")
	ErrCRCMismatch             = errors.New("pack entry crc mismatch")
)

// verifyCRC32 checks the compressed bytes of the entry at off. The entry
// ends where the next one in pack order starts, or at the trailer.
func verifyCRC32(p *packIndex, off uint64, want uint32) error {
	i, ok := slices.BinarySearch(p.sortedOffsets, off)
	if !ok {
		return fmt.Errorf("offset %d not found in %s", off, p.name)
	}

	trailerStart := uint64(p.pack.Len()) - hashSize
	end := trailerStart
	if i+1 < len(p.sortedOffsets) {
		end = p.sortedOffsets[i+1]
	}
	switch {
	case end > trailerStart:
		return ErrObjectExceedsPackBounds
	case end <= off:
		return ErrNonMonotonicOffsets
	}

	h := crc32.NewIEEE()
	if _, err := io.Copy(h, io.NewSectionReader(p.pack, int64(off), int64(end-off))); err != nil {
		return err
	}
	if got := h.Sum32(); got != want {
		return fmt.Errorf("%w: %s@%d: got %08x want %08x", ErrCRCMismatch, p.name, off, got, want)
	}
	return nil
}

// verifyPackTrailer recomputes the SHA-1 over the whole pack and compares it
// with the trailer and with the checksum the idx recorded for the pack.
func verifyPackTrailer(p *packIndex) error {
	size := int64(p.pack.Len())
	if size < hashSize {
		return fmt.Errorf("%w: %s is too small", ErrPackTrailerCorrupt, p.name)
	}

	var trailer Hash
	if _, err := p.pack.ReadAt(trailer[:], size-hashSize); err != nil {
		return fmt.Errorf("read trailer of %s: %w", p.name, err)
	}
	if trailer != p.packSum {
		return fmt.Errorf("%w: %s does not match its idx", ErrPackTrailerCorrupt, p.name)
	}

	h := sha1.New()
	if _, err := io.Copy(h, io.NewSectionReader(p.pack, 0, size-hashSize)); err != nil {
		return fmt.Errorf("checksum %s: %w", p.name, err)
	}
	if !bytes.Equal(h.Sum(nil), trailer[:]) {
		return fmt.Errorf("%w: %s", ErrPackTrailerCorrupt, p.name)
	}
	return nil
}
