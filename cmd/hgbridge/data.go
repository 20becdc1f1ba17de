package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	hgbridge "github.com/ahrav/go-hgbridge"
)

// kindFlags holds the -c / -m pair shared by data and verify.
type kindFlags struct {
	changeset bool
	manifest  bool
}

func (k *kindFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&k.changeset, "changeset", "c", false, "open changeset")
	cmd.Flags().BoolVarP(&k.manifest, "manifest", "m", false, "open manifest")
	cmd.MarkFlagsMutuallyExclusive("changeset", "manifest")
}

func (k *kindFlags) kind() hgbridge.Kind {
	switch {
	case k.changeset:
		return hgbridge.KindChangeset
	case k.manifest:
		return hgbridge.KindManifest
	}
	return hgbridge.KindFile
}

func newDataCmd(a *app) *cobra.Command {
	var kf kindFlags
	cmd := &cobra.Command{
		Use:   "data [-c|-m] <rev>",
		Short: "Dump the raw Mercurial data of a revision",
		Long: `Dump the raw Mercurial data of a changeset (-c), a manifest (-m) or,
with neither flag, a file revision.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(b *hgbridge.Bridge, w io.Writer) error {
				return b.Dump(w, kf.kind(), args[0])
			})
		},
	}
	kf.register(cmd)
	return cmd
}

func newVerifyCmd(a *app) *cobra.Command {
	var kf kindFlags
	cmd := &cobra.Command{
		Use:   "verify [-c|-m] <rev> <file|->",
		Short: "Compare a rebuilt revision with reference bytes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			want, err := readInput(cmd, args[1])
			if err != nil {
				return err
			}
			return a.withSession(cmd, func(b *hgbridge.Bridge, w io.Writer) error {
				res, err := b.Verify(kf.kind(), args[0], want)
				if err != nil {
					return err
				}
				return reportVerify(w, res)
			})
		},
	}
	kf.register(cmd)
	return cmd
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func reportVerify(w io.Writer, res hgbridge.VerifyResult) error {
	ok := res.Match && (res.Kind != hgbridge.KindChangeset || res.NodeMatch)
	if ok {
		_, err := fmt.Fprintf(w, "ok %s %s\n", res.Kind, res.Node)
		return err
	}
	if res.Diff != "" {
		if _, err := io.WriteString(w, res.Diff); err != nil {
			return err
		}
	}
	if res.Kind == hgbridge.KindChangeset && !res.NodeMatch {
		if _, err := fmt.Fprintf(w, "rebuilt changeset does not hash to %s\n", res.Node); err != nil {
			return err
		}
	}
	return fmt.Errorf("%s %s does not match", res.Kind, res.Node)
}
