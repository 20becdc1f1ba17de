package hgbridge

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/golang-lru/arc/v2"
	"golang.org/x/exp/mmap"
)

const (
	packHeaderSize = 12 // "PACK", version, object count
	maxSizeHint    = 64 << 20
)

var ErrBadPack = errors.New("malformed pack")

// packStore reads objects out of the memory-mapped *.pack / *.idx pairs of
// one objects/pack directory.
//
// Inflated objects land in an ARC cache keyed by id; delta bases are also
// kept in a small window keyed by pack location, because an ofs-delta names
// its base by offset and the base id is unknown at that point. Both caches
// are safe for concurrent use, and so is the store.
type packStore struct {
	packs []*packIndex
	files []*mmap.ReaderAt

	cache  *arc.ARCCache[Hash, RawObject]
	window *deltaWindow

	maxDeltaDepth int
	verifyCRC     bool
	log           *slog.Logger
}

// openPackStore maps every pack in dir. A missing directory is an empty
// store: fresh and fully loose repositories have no packs.
func openPackStore(dir string, cfg Config, logger *slog.Logger) (_ *packStore, err error) {
	cache, err := arc.NewARC[Hash, RawObject](cfg.ObjectCacheSize)
	if err != nil {
		return nil, fmt.Errorf("object cache: %w", err)
	}
	window, err := newDeltaWindow()
	if err != nil {
		return nil, fmt.Errorf("delta window: %w", err)
	}
	s := &packStore{
		cache:         cache,
		window:        window,
		maxDeltaDepth: cfg.MaxDeltaDepth,
		verifyCRC:     cfg.VerifyCRC,
		log:           logger,
	}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	paths, err := filepath.Glob(filepath.Join(dir, "*.pack"))
	if err != nil {
		return nil, err
	}
	for _, path := range paths {
		p, err := s.openPack(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		if s.verifyCRC {
			if err := verifyPackTrailer(p); err != nil {
				return nil, err
			}
		}
		s.packs = append(s.packs, p)
		logger.Debug("pack mapped", "pack", p.name, "objects", len(p.oids))
	}
	return s, nil
}

func (s *packStore) openPack(path string) (*packIndex, error) {
	pack, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	s.files = append(s.files, pack)

	idxPath := strings.TrimSuffix(path, ".pack") + ".idx"
	ix, err := mmap.Open(idxPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no idx next to pack", ErrBadPack)
		}
		return nil, err
	}
	defer ix.Close()

	p, err := parseIdx(ix, int64(ix.Len()))
	if err != nil {
		return nil, err
	}
	p.name = filepath.Base(path)
	p.pack = pack

	var hdr [packHeaderSize]byte
	if _, err := pack.ReadAt(hdr[:], 0); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrBadPack, err)
	}
	if !bytes.Equal(hdr[:4], []byte("PACK")) {
		return nil, fmt.Errorf("%w: bad signature", ErrBadPack)
	}
	if v := be32(hdr[4:8]); v != 2 && v != 3 {
		return nil, fmt.Errorf("%w: version %d", ErrBadPack, v)
	}
	if n := be32(hdr[8:12]); int(n) != len(p.oids) {
		return nil, fmt.Errorf("%w: pack holds %d objects, idx %d", ErrBadPack, n, len(p.oids))
	}
	return p, nil
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// Close unmaps every pack. It is safe to call more than once.
func (s *packStore) Close() error {
	var first error
	for _, f := range s.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	s.files = nil
	return first
}

// Has reports whether oid is in one of the packs.
func (s *packStore) Has(oid Hash) bool {
	for _, p := range s.packs {
		if _, ok := p.find(oid); ok {
			return true
		}
	}
	return false
}

// withPrefix appends the distinct ids from every pack that start with prefix,
// up to limit.
func (s *packStore) withPrefix(dst []Hash, prefix hexPrefix, limit int) []Hash {
	for _, p := range s.packs {
		dst = p.withPrefix(dst, prefix, limit)
	}
	return dst
}

// ReadObject returns the object oid, resolving delta chains. The returned
// data is shared with the cache.
func (s *packStore) ReadObject(oid Hash) (RawObject, error) {
	if obj, ok := s.cache.Get(oid); ok {
		return obj, nil
	}
	for i, p := range s.packs {
		pos, ok := p.find(oid)
		if !ok {
			continue
		}
		obj, err := s.readAt(deltaLoc{pack: i, off: p.offsets[pos]}, oid, newDeltaContext(s.maxDeltaDepth))
		if err != nil {
			return RawObject{}, fmt.Errorf("%s in %s: %w", oid, p.name, err)
		}
		if s.verifyCRC {
			if err := verifyCRC32(p, p.offsets[pos], p.crcs[pos]); err != nil {
				return RawObject{}, err
			}
		}
		s.cache.Add(oid, obj)
		return obj, nil
	}
	return RawObject{}, fmt.Errorf("%w: %s", ErrObjectNotFound, oid)
}

// locate finds oid in the packs for a ref-delta base.
func (s *packStore) locate(oid Hash) (deltaLoc, bool) {
	for i, p := range s.packs {
		if pos, ok := p.find(oid); ok {
			return deltaLoc{pack: i, off: p.offsets[pos]}, true
		}
	}
	return deltaLoc{}, false
}

// readAt materializes the entry at loc. A delta entry is resolved by walking
// to its base first, collecting the instruction streams, and then applying
// them from the base up.
func (s *packStore) readAt(loc deltaLoc, oid Hash, ctx *deltaContext) (RawObject, error) {
	type hop struct {
		loc   deltaLoc
		delta []byte
	}
	var chain []hop

	var base RawObject
	for cur := loc; ; {
		if e, ok := s.window.lookup(cur); ok {
			base = RawObject{Type: e.typ, Data: e.data}
			break
		}

		typ, prefix, data, err := s.readEntry(cur)
		if err != nil {
			return RawObject{}, err
		}
		switch typ {
		case ObjCommit, ObjTree, ObjBlob, ObjTag:
			base = RawObject{Type: typ, Data: data}
		case ObjRefDelta:
			var baseID Hash
			copy(baseID[:], prefix)
			if err := ctx.enterRefDelta(baseID); err != nil {
				return RawObject{}, err
			}
			chain = append(chain, hop{loc: cur, delta: data})
			if next, ok := s.locate(baseID); ok {
				cur = next
				continue
			}
			return RawObject{}, fmt.Errorf("%w: delta base %s is in no pack", ErrBadPack, baseID)
		case ObjOfsDelta:
			back, _, err := decodeOfsOffset(prefix)
			if err != nil {
				return RawObject{}, err
			}
			if back == 0 || back > cur.off {
				return RawObject{}, fmt.Errorf("%w: ofs-delta at %d points before the pack", ErrBadDelta, cur.off)
			}
			next := deltaLoc{pack: cur.pack, off: cur.off - back}
			if err := ctx.enterOfsDelta(next); err != nil {
				return RawObject{}, err
			}
			chain = append(chain, hop{loc: cur, delta: data})
			cur = next
			continue
		default:
			return RawObject{}, fmt.Errorf("%w: entry type %d at %d", ErrBadPack, typ, cur.off)
		}
		if len(chain) > 0 {
			s.window.add(cur, data, typ)
		}
		break
	}

	out := base
	for i := len(chain) - 1; i >= 0; i-- {
		data, err := applyDelta(out.Data, chain[i].delta)
		if err != nil {
			return RawObject{}, fmt.Errorf("apply delta at %d: %w", chain[i].loc.off, err)
		}
		out = RawObject{Type: base.Type, Data: data}
		if i > 0 {
			s.window.add(chain[i].loc, data, base.Type)
		}
	}
	if len(chain) > 0 {
		s.log.Debug("delta chain resolved", "oid", oid, "depth", len(chain))
	}
	return out, nil
}

// readEntry parses the entry header at loc and inflates its body. prefix is
// the base id of a ref-delta or the encoded offset of an ofs-delta.
func (s *packStore) readEntry(loc deltaLoc) (ObjectType, []byte, []byte, error) {
	pack := s.packs[loc.pack].pack

	var hdr [32]byte
	n, err := pack.ReadAt(hdr[:], int64(loc.off))
	if err != nil && !errors.Is(err, io.EOF) {
		return ObjBad, nil, nil, err
	}
	typ, size, hlen := parseEntryHeader(hdr[:n])
	if hlen <= 0 {
		return ObjBad, nil, nil, fmt.Errorf("%w: unreadable entry header at %d", ErrBadPack, loc.off)
	}
	pos := int64(loc.off) + int64(hlen)

	var prefix []byte
	switch typ {
	case ObjRefDelta:
		prefix = make([]byte, hashSize)
		if _, err := pack.ReadAt(prefix, pos); err != nil {
			return ObjBad, nil, nil, fmt.Errorf("%w: ref-delta base: %v", ErrBadPack, err)
		}
	case ObjOfsDelta:
		rest := hdr[hlen:n]
		_, m, err := decodeOfsOffset(rest)
		if err != nil {
			return ObjBad, nil, nil, err
		}
		prefix = append([]byte(nil), rest[:m]...)
	}
	pos += int64(len(prefix))

	end := int64(pack.Len()) - hashSize
	if pos >= end {
		return ObjBad, nil, nil, fmt.Errorf("%w: entry at %d runs into the trailer", ErrBadPack, loc.off)
	}
	data, err := inflate(io.NewSectionReader(pack, pos, end-pos), int(min(size, maxSizeHint)))
	if err != nil {
		return ObjBad, nil, nil, err
	}
	if uint64(len(data)) != size {
		return ObjBad, nil, nil, fmt.Errorf("%w: entry at %d inflated to %d bytes, header says %d",
			ErrBadPack, loc.off, len(data), size)
	}
	return typ, prefix, data, nil
}

// parseEntryHeader decodes the type and inflated size that open every pack
// entry: three type bits and four size bits in the first byte, then 7 size
// bits per continuation byte. hlen is -1 on truncated input.
func parseEntryHeader(b []byte) (typ ObjectType, size uint64, hlen int) {
	if len(b) == 0 {
		return ObjBad, 0, -1
	}
	typ = ObjectType(b[0] >> 4 & 7)
	size = uint64(b[0] & 0x0f)
	shift := uint(4)
	for i := 0; ; i++ {
		if b[i]&0x80 == 0 {
			return typ, size, i + 1
		}
		if i+1 >= len(b) || i+1 >= 10 {
			return ObjBad, 0, -1
		}
		size |= uint64(b[i+1]&0x7f) << shift
		shift += 7
	}
}
