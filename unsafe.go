package hgbridge

import "unsafe"

// btostr converts without copying. The caller must not mutate b afterwards.
func btostr(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}
