// Package cli implements the equilibrium command line.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/equilibrium/internal/config"
	"github.com/danielpatrickdp/equilibrium/internal/identity"
	"github.com/danielpatrickdp/equilibrium/internal/state"
	"github.com/danielpatrickdp/equilibrium/internal/subject"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Database   string // overrides the configured database path
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "equilibrium",
		Short: "Vertex identities, behavioral encoding and access tiers",
		Long: `equilibrium derives a quadratic identity for each subject from a digit
source, encodes behavioral measurements with it, predicts how behavior moves
toward the subject's vertex and scores access tiers from action history.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")

	cmd.AddCommand(NewGenesisCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewLockCommand(opts))
	cmd.AddCommand(NewEncodeCommand(opts))
	cmd.AddCommand(NewPredictCommand(opts))
	cmd.AddCommand(NewActionCommand(opts))
	cmd.AddCommand(NewScoreCommand(opts))
	cmd.AddCommand(NewSnapshotCommand(opts))
	cmd.AddCommand(NewOwnershipCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewSelfCheckCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

// Execute runs the command line with args and returns the exit code.
// Errors not already reported are written in the selected format.
func Execute(args []string) int {
	opts := &RootOptions{Format: "text"}
	cmd := newRootCommand(opts)
	cmd.SetArgs(args)
	err := cmd.Execute()
	if err == nil {
		return ExitSuccess
	}

	code := GetExitCode(err)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || !exitErr.reported {
		label := "E_FAILURE"
		if code == ExitCommandError {
			label = "E_COMMAND"
		}
		_ = opts.formatter(cmd).Error(label, err.Error(), nil)
	}
	return code
}

// #region environment
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	format := o.Format
	if !slices.Contains(ValidFormats, format) {
		format = "text"
	}
	return &OutputFormatter{
		Format:    format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.Database != "" {
		cfg.DB = o.Database
	}
	return cfg, nil
}

// session is an opened database plus the registry over it.
type session struct {
	cfg    config.Config
	store  *state.Store
	reg    *subject.Registry
	logger *slog.Logger
}

func (o *RootOptions) open(cmd *cobra.Command) (*session, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger(cmd.ErrOrStderr(), o.Verbose)

	src, err := cfg.Source()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build digit source", err)
	}
	st, err := state.NewStore(cfg.DB)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	reg, err := subject.NewRegistry(src, cfg.Config, st)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to create registry", err)
	}
	logger.Debug("session opened", "db", cfg.DB, "source", src.Version())
	return &session{cfg: cfg, store: st, reg: reg, logger: logger}, nil
}

func (s *session) Close() error {
	return s.store.Close()
}

// subjectError classifies a registry error by exit code.
func subjectError(message string, err error) error {
	switch {
	case errors.Is(err, identity.ErrTampered), errors.Is(err, identity.ErrAlreadyLocked):
		return WrapExitError(ExitFailure, message, err)
	default:
		return WrapExitError(ExitCommandError, message, err)
	}
}

// #endregion environment
