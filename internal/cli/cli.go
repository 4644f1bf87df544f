// Package cli implements the rgbalign command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"rgb-aligner/internal/alignment"
	"rgb-aligner/internal/app"
	"rgb-aligner/internal/config"
	"rgb-aligner/internal/logging"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Exit codes returned by Execute.
const (
	ExitOK                  = 0
	ExitError               = 1
	ExitInsufficientMatches = 2
	ExitEstimationFailed    = 3
)

// Root carries state shared by every subcommand.
type Root struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg *config.Config
	log *logrus.Logger

	newAligner func(alignment.Options) app.Aligner
}

// NewRootCmd creates the root command writing normal output to out.
func NewRootCmd(out io.Writer) *cobra.Command {
	return newRootCmd(out, newRoot())
}

// newRoot returns a Root backed by the feature-based engine.
func newRoot() *Root {
	return &Root{
		newAligner: func(opts alignment.Options) app.Aligner {
			return alignment.NewEngine(opts)
		},
	}
}

func newRootCmd(out io.Writer, root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rgbalign",
		Short: "Register separately captured R, G and B channels",
		Long: `rgbalign aligns three monochrome captures of the same scene, taken through red,
green and blue filters, so they can be recombined into a colour image. The red
channel is the reference; green and blue are warped onto it.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: root.setup,
	}
	rootCmd.SetOut(out)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&root.configPath, "config", "", "config file (default "+config.DefaultPath()+")")
	flags.StringVar(&root.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&root.logFormat, "log-format", "", "log format: text, json")

	rootCmd.AddCommand(newAlignCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newSynthCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

// setup loads the config file and builds the logger before any subcommand
// runs. Flags win over file values.
func (r *Root) setup(cmd *cobra.Command, _ []string) error {
	path := r.configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if r.logLevel != "" {
		cfg.Logging.Level = r.logLevel
	}
	if r.logFormat != "" {
		cfg.Logging.Format = r.logFormat
	}

	log, err := logging.NewWithOutput(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	r.cfg = cfg
	r.configPath = path
	r.log = log
	return nil
}

// Execute runs the command line and returns the process exit code.
func Execute(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCmd(os.Stdout)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return ExitCode(err)
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	var insufficient *alignment.InsufficientCorrespondencesError
	var failed *alignment.TransformEstimationError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &insufficient):
		return ExitInsufficientMatches
	case errors.As(err, &failed):
		return ExitEstimationFailed
	default:
		return ExitError
	}
}
