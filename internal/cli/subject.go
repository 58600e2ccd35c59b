package cli

import (
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/equilibrium/internal/identity"
)

// GenesisOptions holds flags for the genesis command.
type GenesisOptions struct {
	*RootOptions
	Entropy string
}

// NewGenesisCommand creates the genesis command.
func NewGenesisCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GenesisOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "genesis",
		Short: "Create a subject and its genesis record",
		Long: `Create a subject whose quadratic identity is derived at an offset chosen
from entropy. Without --entropy 32 random bytes are drawn.

Examples:
  equilibrium genesis --db ./equilibrium.db
  equilibrium genesis --entropy "device-7f3a" --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenesis(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Entropy, "entropy", "", "entropy string (random when empty)")

	return cmd
}

func runGenesis(opts *GenesisOptions, cmd *cobra.Command) error {
	sess, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	entropy := []byte(opts.Entropy)
	if len(entropy) == 0 {
		entropy = make([]byte, 32)
		if _, err := rand.Read(entropy); err != nil {
			return WrapExitError(ExitCommandError, "failed to draw entropy", err)
		}
	}

	s, err := sess.reg.Create(entropy)
	if err != nil {
		return subjectError("failed to create subject", err)
	}
	rec := s.Genesis()
	sess.logger.Info("subject created", "subject", rec.ID, "offset", rec.Offset)

	return opts.formatter(cmd).Success(rec, func(w io.Writer) {
		writeGenesis(w, rec)
	})
}

func writeGenesis(w io.Writer, rec identity.GenesisRecord) {
	fmt.Fprintf(w, "Subject %s\n", rec.ID)
	fmt.Fprintf(w, "  source:  %s @ offset %d\n", rec.SourceVersion, rec.Offset)
	fmt.Fprintf(w, "  f(x):    %.10f x² + %.10f x + %.10f\n", rec.A, rec.B, rec.C)
	fmt.Fprintf(w, "  vertex:  (%.10f, %.10f)\n", rec.VertexX, rec.VertexY)
	if rec.Locked {
		fmt.Fprintf(w, "  locked:  %s (snapshot %s)\n", time.UnixMilli(rec.LockedAt).UTC().Format(timeLayout), short(rec.SnapshotHash))
	} else {
		fmt.Fprintln(w, "  locked:  no")
	}
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <subject-id>",
		Short: "Re-derive a stored genesis record and report tampering",
		Long: `Re-derive the subject's quadratic from its stored offset and compare every
stored field.

Exit codes:
  0 - Record verified
  1 - One or more fields do not re-derive
  2 - Command error (unknown subject, database error)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			res, err := sess.reg.Verify(args[0])
			if err != nil {
				return subjectError("failed to verify subject", err)
			}
			f := rootOpts.formatter(cmd)
			if !res.Valid {
				return f.Failure("E_TAMPERED", "genesis verification failed", res, func(w io.Writer) {
					fmt.Fprintf(w, "✗ %s: %s\n", args[0], res.Reason)
					for _, m := range res.Mismatches {
						fmt.Fprintf(w, "  %-16s expected %s, stored %s\n", m.Field, m.Expected, m.Actual)
					}
				})
			}
			return f.Success(res, func(w io.Writer) {
				fmt.Fprintf(w, "✓ %s: %s\n", args[0], res.Reason)
			})
		},
	}
}

// NewLockCommand creates the lock command.
func NewLockCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lock <subject-id>",
		Short: "Fold the current snapshot into the genesis record",
		Long: `Commit a snapshot of the subject's encoder and bind its hash into the
genesis record with a root signature. A subject can be locked once.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			rec, err := sess.reg.Lock(args[0])
			if err != nil {
				return subjectError("failed to lock subject", err)
			}
			return rootOpts.formatter(cmd).Success(rec, func(w io.Writer) {
				writeGenesis(w, rec)
				fmt.Fprintf(w, "  root:    %s\n", rec.RootSignature)
			})
		},
	}
}

const timeLayout = "2006-01-02T15:04:05Z"

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
