package hgbridge

import (
	"fmt"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
)

// DiffBytes returns a unified diff turning want into got, or "" when they are
// equal. NUL bytes are left as is; the diff is meant for a terminal or a
// file, not for patch(1).
func DiffBytes(wantName, gotName string, want, got []byte) string {
	a, b := string(want), string(got)
	if a == b {
		return ""
	}
	edits := myers.ComputeEdits(span.URIFromPath(wantName), a, b)
	return fmt.Sprint(gotextdiff.ToUnified(wantName, gotName, a, edits))
}
