package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/equilibrium/internal/eval"
)

// NewSelfCheckCommand creates the selfcheck command.
func NewSelfCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "selfcheck",
		Short: "Check determinism, uniqueness and round trips on the digit source",
		Long: `Run the runtime self-check against the configured digit source: repeated
derivations agree, distinct offsets give distinct vertices, encodings decode
back to their inputs and the embedded pi digits match Machin's formula.

Exit codes:
  0 - All checks passed
  1 - A check failed
  2 - Command error (bad config)`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			src, err := cfg.Source()
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to build digit source", err)
			}
			logger := cfg.Logger(cmd.ErrOrStderr(), rootOpts.Verbose)
			logger.Debug("running self-check", "source", src.Version(), "checksum", src.Checksum())

			res := eval.NewEvalHarness(cfg.Eval).Run(src, cfg.Encoder)
			text := func(w io.Writer) {
				fmt.Fprintf(w, "source %s\n", src.Version())
				for _, m := range res.Metrics {
					status := "✓"
					if !m.Pass {
						status = "✗"
					}
					fmt.Fprintf(w, "%s %-20s %.6g\n", status, m.Name, m.Value)
				}
				fmt.Fprintln(w, res.Reason)
			}
			f := rootOpts.formatter(cmd)
			if !res.Passed {
				return f.Failure("E_SELFCHECK", "self-check failed", res, text)
			}
			return f.Success(res, text)
		},
	}
}
