// Package main provides the hgbridge command: Mercurial views of a Git
// repository converted by a Git/Mercurial bridge.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	hgbridge "github.com/ahrav/go-hgbridge"
)

// app carries the global flags into the subcommands.
type app struct {
	configPath string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "hgbridge",
		Short: "Read Mercurial data out of a bridged Git repository",
		Long: `hgbridge answers Mercurial queries against a Git repository whose
history was converted from Mercurial, rebuilding changesets, manifests and
file revisions byte for byte.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default .hgbridge.yaml in . or $HOME)")
	pf.String("git-dir", "", "path to the git directory (default: discovered from the working directory)")
	pf.String("metadata-ref", hgbridge.DefaultMetadataRef, "ref of the bridge metadata commit")
	pf.String("log-level", "warn", "log level: debug, info, warn or error")
	pf.String("metrics-file", "", "write Prometheus metrics to this file on exit")

	root.AddCommand(
		newHg2GitCmd(a),
		newGit2HgCmd(a),
		newDataCmd(a),
		newVerifyCmd(a),
		newVersionCmd(),
	)
	return root
}

// session is an open bridge plus what must happen when the command ends.
type session struct {
	bridge      *hgbridge.Bridge
	metrics     *hgbridge.Metrics
	metricsFile string
}

// open loads the configuration and opens the bridge for cmd.
func (a *app) open(cmd *cobra.Command) (*session, error) {
	s, err := loadSettings(a.configPath, cmd.Flags())
	if err != nil {
		return nil, err
	}
	cfg, err := s.bridgeConfig()
	if err != nil {
		return nil, err
	}
	logger, err := s.logger()
	if err != nil {
		return nil, err
	}

	opts := []hgbridge.Option{hgbridge.WithLogger(logger)}
	var metrics *hgbridge.Metrics
	if s.MetricsFile != "" {
		if metrics, err = hgbridge.NewMetrics(); err != nil {
			return nil, err
		}
		opts = append(opts, hgbridge.WithMetrics(metrics))
	}

	b, err := hgbridge.Open(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &session{bridge: b, metrics: metrics, metricsFile: s.MetricsFile}, nil
}

// close releases the repository and flushes metrics. err is the command's
// own result and takes precedence.
func (s *session) close(err error) error {
	if cerr := s.bridge.Close(); err == nil {
		err = cerr
	}
	if s.metrics != nil {
		if merr := s.metrics.WriteTextfile(s.metricsFile); err == nil {
			err = merr
		}
	}
	return err
}

// withSession runs fn with an open bridge and a buffered stdout.
func (a *app) withSession(cmd *cobra.Command, fn func(b *hgbridge.Bridge, w io.Writer) error) (err error) {
	s, err := a.open(cmd)
	if err != nil {
		return err
	}
	defer func() { err = s.close(err) }()

	w := bufio.NewWriter(cmd.OutOrStdout())
	if err := fn(s.bridge, w); err != nil {
		_ = w.Flush()
		return err
	}
	return w.Flush()
}
