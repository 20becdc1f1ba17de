package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	hgbridge "github.com/ahrav/go-hgbridge"
)

const (
	fullWidth    = 40
	defaultWidth = "12"
)

// addAbbrevFlag registers --abbrev: absent means full ids, bare --abbrev
// means 12 digits, --abbrev=N means N digits.
func addAbbrevFlag(cmd *cobra.Command, width *int) {
	cmd.Flags().IntVar(width, "abbrev", fullWidth, "abbreviate ids to `N` hex digits (default 12 when given without a value)")
	cmd.Flags().Lookup("abbrev").NoOptDefVal = defaultWidth
}

func checkWidth(width int) error {
	if width < 3 || width > fullWidth {
		return fmt.Errorf("--abbrev must be between 3 and %d, got %d", fullWidth, width)
	}
	return nil
}

func newHg2GitCmd(a *app) *cobra.Command {
	var width int
	cmd := &cobra.Command{
		Use:   "hg2git [--abbrev[=N]] <hg-sha1>...",
		Short: "Print the Git object of each Mercurial node",
		Long: `Print one line per argument with the Git object the Mercurial node or
abbreviation maps to. Unknown nodes and arguments that are not hex print
as zeros.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkWidth(width); err != nil {
				return err
			}
			return a.withSession(cmd, func(b *hgbridge.Bridge, w io.Writer) error {
				return b.TranslateHgToGit(w, args, width)
			})
		},
	}
	addAbbrevFlag(cmd, &width)
	return cmd
}

func newGit2HgCmd(a *app) *cobra.Command {
	var width int
	cmd := &cobra.Command{
		Use:   "git2hg [--abbrev[=N]] <committish>...",
		Short: "Print the Mercurial changeset of each Git commit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkWidth(width); err != nil {
				return err
			}
			return a.withSession(cmd, func(b *hgbridge.Bridge, w io.Writer) error {
				return b.TranslateGitToHg(w, args, width)
			})
		},
	}
	addAbbrevFlag(cmd, &width)
	return cmd
}
