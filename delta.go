package hgbridge

import (
	"errors"
	"fmt"
)

var ErrBadDelta = errors.New("malformed delta")

// deltaContext tracks one delta chain walk so that cycles and overlong
// chains fail instead of looping.
type deltaContext struct {
	visited  map[Hash]bool
	offsets  map[deltaLoc]bool
	depth    int
	maxDepth int
}

func newDeltaContext(maxDepth int) *deltaContext {
	return &deltaContext{
		visited:  make(map[Hash]bool),
		offsets:  make(map[deltaLoc]bool),
		maxDepth: maxDepth,
	}
}

// enterRefDelta records a hop to the base named by oid.
func (ctx *deltaContext) enterRefDelta(oid Hash) error {
	if ctx.depth >= ctx.maxDepth {
		return fmt.Errorf("%w: chain deeper than %d", ErrBadDelta, ctx.maxDepth)
	}
	if ctx.visited[oid] {
		return fmt.Errorf("%w: circular reference to %s", ErrBadDelta, oid)
	}
	ctx.visited[oid] = true
	ctx.depth++
	return nil
}

// enterOfsDelta records a hop to the base at loc.
func (ctx *deltaContext) enterOfsDelta(loc deltaLoc) error {
	if ctx.depth >= ctx.maxDepth {
		return fmt.Errorf("%w: chain deeper than %d", ErrBadDelta, ctx.maxDepth)
	}
	if ctx.offsets[loc] {
		return fmt.Errorf("%w: circular reference at offset %d", ErrBadDelta, loc.off)
	}
	ctx.offsets[loc] = true
	ctx.depth++
	return nil
}

// decodeVarInt reads the little-endian base-128 size that opens a delta.
// It returns the value and the number of bytes consumed, or n <= 0 when buf
// ends mid-number.
func decodeVarInt(buf []byte) (uint64, int) {
	var v uint64
	for i, b := range buf {
		if i >= 10 {
			return 0, -1
		}
		v |= uint64(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return v, i + 1
		}
	}
	return 0, 0
}

// decodeOfsOffset reads the big-endian, off-by-one varint that an ofs-delta
// uses to point back at its base.
func decodeOfsOffset(buf []byte) (uint64, int, error) {
	if len(buf) == 0 {
		return 0, 0, fmt.Errorf("%w: empty ofs-delta offset", ErrBadDelta)
	}
	off := uint64(buf[0] & 0x7f)
	i := 1
	for buf[i-1]&0x80 != 0 {
		if i >= len(buf) || i >= 10 {
			return 0, 0, fmt.Errorf("%w: truncated ofs-delta offset", ErrBadDelta)
		}
		off = (off+1)<<7 | uint64(buf[i]&0x7f)
		i++
	}
	return off, i, nil
}

// applyDelta runs Git's copy/insert instruction stream against base.
func applyDelta(base, delta []byte) ([]byte, error) {
	baseSize, n := decodeVarInt(delta)
	if n <= 0 {
		return nil, fmt.Errorf("%w: bad base size", ErrBadDelta)
	}
	if baseSize != uint64(len(base)) {
		return nil, fmt.Errorf("%w: base is %d bytes, delta expects %d", ErrBadDelta, len(base), baseSize)
	}
	delta = delta[n:]
	targetSize, n := decodeVarInt(delta)
	if n <= 0 {
		return nil, fmt.Errorf("%w: bad target size", ErrBadDelta)
	}
	delta = delta[n:]

	out := make([]byte, 0, targetSize)
	for len(delta) > 0 {
		op := delta[0]
		delta = delta[1:]

		switch {
		case op&0x80 != 0:
			var off, size uint64
			for bit := range 7 {
				if op&(1<<bit) == 0 {
					continue
				}
				if len(delta) == 0 {
					return nil, fmt.Errorf("%w: truncated copy instruction", ErrBadDelta)
				}
				if bit < 4 {
					off |= uint64(delta[0]) << (8 * bit)
				} else {
					size |= uint64(delta[0]) << (8 * (bit - 4))
				}
				delta = delta[1:]
			}
			if size == 0 {
				size = 0x10000
			}
			if off+size > uint64(len(base)) {
				return nil, fmt.Errorf("%w: copy [%d,+%d) past base of %d bytes", ErrBadDelta, off, size, len(base))
			}
			out = append(out, base[off:off+size]...)

		case op != 0:
			if int(op) > len(delta) {
				return nil, fmt.Errorf("%w: truncated insert", ErrBadDelta)
			}
			out = append(out, delta[:op]...)
			delta = delta[op:]

		default:
			return nil, fmt.Errorf("%w: reserved opcode 0", ErrBadDelta)
		}

		if uint64(len(out)) > targetSize {
			return nil, fmt.Errorf("%w: output exceeds %d bytes", ErrBadDelta, targetSize)
		}
	}
	if uint64(len(out)) != targetSize {
		return nil, fmt.Errorf("%w: produced %d bytes, want %d", ErrBadDelta, len(out), targetSize)
	}
	return out, nil
}
