package hgbridge

import "fmt"

// ApplyPatch rebuilds a text from base and an ordered, non-overlapping list
// of edits. Bytes between edits are copied from base unchanged.
func ApplyPatch(base []byte, edits []PatchEdit) ([]byte, error) {
	out := make([]byte, 0, len(base))
	cursor := 0
	for i, e := range edits {
		if e.Start < cursor || e.End < e.Start || e.End > len(base) {
			return nil, fmt.Errorf("%w: edit %d [%d,%d) with cursor at %d and %d bytes of text",
				ErrMalformedPatch, i, e.Start, e.End, cursor, len(base))
		}
		out = append(out, base[cursor:e.Start]...)
		out = append(out, e.Data...)
		cursor = e.End
	}
	return append(out, base[cursor:]...), nil
}

// percentDecode undoes %XX escapes. A '%' that is not followed by two hex
// digits is kept literally, and '+' is not special.
func percentDecode(s []byte) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			hi, ok1 := unhex(s[i+1])
			lo, ok2 := unhex(s[i+2])
			if ok1 && ok2 {
				out = append(out, hi<<4|lo)
				i += 2
				continue
			}
		}
		out = append(out, s[i])
	}
	return out
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
