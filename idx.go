package hgbridge

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"

	"golang.org/x/exp/mmap"
)

// Pack-index v2 layout sizes.
const (
	idxHeaderSize = 8 // magic + version
	fanoutEntries = 256
	fanoutSize    = fanoutEntries * 4
	crcSize       = 4
	offsetSize    = 4
	largeOffSize  = 8
	idxTrailer    = 2 * hashSize // pack checksum + idx checksum
)

var idxMagic = []byte{0xff, 't', 'O', 'c'}

var (
	ErrNonMonotonicFanout = errors.New("idx corrupt: fan-out table not monotonic")
	ErrBadIdxChecksum     = errors.New("idx corrupt: checksum mismatch")
	ErrUnsupportedIdx     = errors.New("unsupported idx version")
)

// packIndex is the parsed form of one *.idx file together with the pack it
// describes. It is immutable once built.
type packIndex struct {
	name string
	pack *mmap.ReaderAt

	// fanout[b] is the number of objects whose first id byte is <= b.
	fanout [fanoutEntries]uint32

	// oids is sorted; offsets and crcs run parallel to it.
	oids    []Hash
	offsets []uint64
	crcs    []uint32

	// sortedOffsets lists the object offsets in pack order so an entry's
	// on-disk extent can be found for CRC checks.
	sortedOffsets []uint64

	// packSum is the pack checksum recorded in the idx trailer.
	packSum Hash
}

// find returns the position of oid in the index.
func (p *packIndex) find(oid Hash) (int, bool) {
	lo, hi := p.bucket(oid[0])
	if lo == hi {
		return 0, false
	}
	i, ok := slices.BinarySearchFunc(p.oids[lo:hi], oid, Hash.Compare)
	return int(lo) + i, ok
}

func (p *packIndex) bucket(first byte) (uint32, uint32) {
	var lo uint32
	if first > 0 {
		lo = p.fanout[first-1]
	}
	return lo, p.fanout[first]
}

// withPrefix appends to dst every id in the index whose hex form starts with
// prefix and that dst does not already hold, stopping once dst holds limit
// ids.
func (p *packIndex) withPrefix(dst []Hash, prefix hexPrefix, limit int) []Hash {
	lo, hi := p.bucket(prefix.first())
	start := lo + uint32(sortIndex(p.oids[lo:hi], prefix.low()))
	for i := start; i < hi && len(dst) < limit; i++ {
		if !prefix.matches(p.oids[i]) {
			break
		}
		dst = appendDistinct(dst, p.oids[i])
	}
	return dst
}

// appendDistinct appends oid unless dst already holds it. Prefix searches
// visit the same object once per pack and again when it is also loose.
func appendDistinct(dst []Hash, oid Hash) []Hash {
	if slices.Contains(dst, oid) {
		return dst
	}
	return append(dst, oid)
}

func sortIndex(oids []Hash, h Hash) int {
	i, _ := slices.BinarySearchFunc(oids, h, Hash.Compare)
	return i
}

// parseIdx reads a version 2 pack index.
//
//	header    magic "\377tOc", version 2
//	fan-out   256 big-endian uint32, cumulative counts by first byte
//	ids       N x 20 bytes, sorted
//	crcs      N x 4 bytes
//	offsets   N x 4 bytes; MSB set means index into the large-offset table
//	large     M x 8 bytes
//	trailer   pack SHA-1, idx SHA-1
func parseIdx(ix io.ReaderAt, size int64) (*packIndex, error) {
	if size < idxHeaderSize+fanoutSize+idxTrailer {
		return nil, fmt.Errorf("%w: %d bytes is too short", ErrBadIdxChecksum, size)
	}

	head := make([]byte, idxHeaderSize+fanoutSize)
	if _, err := ix.ReadAt(head, 0); err != nil {
		return nil, err
	}
	if !bytes.Equal(head[:4], idxMagic) {
		return nil, fmt.Errorf("%w: v1 or unknown magic", ErrUnsupportedIdx)
	}
	if v := binary.BigEndian.Uint32(head[4:8]); v != 2 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedIdx, v)
	}

	p := &packIndex{}
	for i := range fanoutEntries {
		p.fanout[i] = binary.BigEndian.Uint32(head[idxHeaderSize+i*4:])
		if i > 0 && p.fanout[i] < p.fanout[i-1] {
			return nil, ErrNonMonotonicFanout
		}
	}

	n := int64(p.fanout[fanoutEntries-1])
	if n > math.MaxUint32/hashSize {
		return nil, fmt.Errorf("idx claims %d objects", n)
	}
	tables := n * (hashSize + crcSize + offsetSize)
	if size < idxHeaderSize+fanoutSize+tables+idxTrailer {
		return nil, fmt.Errorf("%w: truncated tables", ErrBadIdxChecksum)
	}

	body := make([]byte, tables)
	if _, err := ix.ReadAt(body, idxHeaderSize+fanoutSize); err != nil {
		return nil, err
	}
	oidData := body[:n*hashSize]
	crcData := body[n*hashSize : n*(hashSize+crcSize)]
	offData := body[n*(hashSize+crcSize):]

	p.oids = make([]Hash, n)
	p.crcs = make([]uint32, n)
	p.offsets = make([]uint64, n)
	largeBase := int64(idxHeaderSize+fanoutSize) + tables
	largeCount := (size - idxTrailer - largeBase) / largeOffSize

	for i := range n {
		copy(p.oids[i][:], oidData[i*hashSize:])
		p.crcs[i] = binary.BigEndian.Uint32(crcData[i*crcSize:])

		off := binary.BigEndian.Uint32(offData[i*offsetSize:])
		if off&0x80000000 == 0 {
			p.offsets[i] = uint64(off)
			continue
		}
		li := int64(off & 0x7fffffff)
		if li >= largeCount {
			return nil, fmt.Errorf("%w: large offset index %d out of range", ErrBadIdxChecksum, li)
		}
		var b [largeOffSize]byte
		if _, err := ix.ReadAt(b[:], largeBase+li*largeOffSize); err != nil {
			return nil, err
		}
		p.offsets[i] = binary.BigEndian.Uint64(b[:])
	}

	p.sortedOffsets = slices.Clone(p.offsets)
	slices.Sort(p.sortedOffsets)

	trailer := make([]byte, idxTrailer)
	if _, err := ix.ReadAt(trailer, size-idxTrailer); err != nil {
		return nil, err
	}
	copy(p.packSum[:], trailer[:hashSize])

	h := sha1.New()
	if _, err := io.Copy(h, io.NewSectionReader(ix, 0, size-hashSize)); err != nil {
		return nil, err
	}
	if !bytes.Equal(h.Sum(nil), trailer[hashSize:]) {
		return nil, ErrBadIdxChecksum
	}
	return p, nil
}
