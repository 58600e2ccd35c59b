package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/equilibrium/internal/gate"
	"github.com/danielpatrickdp/equilibrium/internal/logging"
	"github.com/danielpatrickdp/equilibrium/internal/replay"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Fixtures []string
	Subject  string
	Audit    bool
	Limit    int
	Export   string
}

// ReplayCaseResult is one replayed history.
type ReplayCaseResult struct {
	Name     string    `json:"name"`
	Tier     gate.Tier `json:"tier"`
	Gated    bool      `json:"gated"`
	Passed   bool      `json:"passed"`
	Failures []string  `json:"failures,omitempty"`
}

// ReplayOutput is the result of the replay command.
type ReplayOutput struct {
	Source  string             `json:"source"`
	Cases   []ReplayCaseResult `json:"cases"`
	Total   int                `json:"total"`
	Passed  int                `json:"passed"`
	Failed  int                `json:"failed"`
	Gated   int                `json:"gated"`
	ByTier  map[gate.Tier]int  `json:"by_tier"`
	AllPass bool               `json:"all_pass"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay action histories through the tier gate",
		Long: `Replay action histories through the access tier gate and check the
outcome. Fixture mode reads named cases with expected outcomes from JSON files.
Audit mode re-evaluates score decisions stored in the audit log with the gate
config each was recorded under and checks the stored tier is reproduced.

Exit codes:
  0 - Every case passed
  1 - One or more cases failed
  2 - Command error (unreadable fixture, database error)

Examples:
  equilibrium replay --fixture internal/replay/testdata/scenarios.json
  equilibrium replay --audit --db ./equilibrium.db --subject 6f1c...
  equilibrium replay --audit --db ./equilibrium.db --export decisions.json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Fixtures, "fixture", nil, "fixture JSON file (repeatable)")
	cmd.Flags().BoolVar(&opts.Audit, "audit", false, "replay score decisions from the audit log")
	cmd.Flags().StringVar(&opts.Subject, "subject", "", "audit mode: only this subject")
	cmd.Flags().IntVar(&opts.Limit, "limit", 1000, "audit mode: most recent decisions to replay")
	cmd.Flags().StringVar(&opts.Export, "export", "", "audit mode: also write the decisions as a fixture file")
	cmd.MarkFlagsMutuallyExclusive("fixture", "audit")
	cmd.MarkFlagsOneRequired("fixture", "audit")
	cmd.MarkFlagsMutuallyExclusive("fixture", "export")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	var (
		source  string
		results []replay.ReplayResult
		err     error
	)
	if opts.Audit {
		source = "audit"
		results, err = replayAudit(opts, cmd)
	} else {
		source = "fixture"
		results, err = replayFixtures(opts.Fixtures)
	}
	if err != nil {
		return err
	}

	sum := replay.Summarize(results)
	out := ReplayOutput{
		Source:  source,
		Cases:   make([]ReplayCaseResult, len(results)),
		Total:   sum.Total,
		Passed:  sum.Passed,
		Failed:  sum.Failed,
		Gated:   sum.Gated,
		ByTier:  sum.ByTier,
		AllPass: sum.Failed == 0,
	}
	for i, r := range results {
		out.Cases[i] = ReplayCaseResult{
			Name:     r.Name,
			Tier:     r.Result.Tier,
			Gated:    r.Result.Gated,
			Passed:   r.Passed,
			Failures: r.Failures,
		}
	}

	text := func(w io.Writer) { writeReplay(w, out, opts.Verbose) }
	f := opts.formatter(cmd)
	if !out.AllPass {
		return f.Failure("E_REPLAY", fmt.Sprintf("%d of %d case(s) failed", out.Failed, out.Total), out, text)
	}
	return f.Success(out, text)
}

func replayFixtures(paths []string) ([]replay.ReplayResult, error) {
	var results []replay.ReplayResult
	for _, path := range paths {
		fx, err := replay.LoadFixture(path)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load fixture", err)
		}
		cfg, err := fx.ToGateConfig()
		if err != nil {
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("invalid gate config in %s", path), err)
		}
		cases := make([]replay.Case, len(fx.Cases))
		for i := range fx.Cases {
			cases[i] = fx.Cases[i].ToCase()
		}
		prefix := filepath.Base(path)
		for _, r := range replay.Replay(cases, cfg) {
			r.Name = prefix + "/" + r.Name
			results = append(results, r)
		}
	}
	return results, nil
}

func replayAudit(opts *ReplayOptions, cmd *cobra.Command) ([]replay.ReplayResult, error) {
	sess, err := opts.open(cmd)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	entries, err := logging.ListDecisions(sess.store.DB(), opts.Subject, logging.TriggerScore, opts.Limit)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read audit log", err)
	}
	recs, err := logging.TierRecords(entries)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to decode audit log", err)
	}
	sess.logger.Debug("replaying audit log", "records", len(recs), "subject", opts.Subject)

	if opts.Export != "" {
		desc := "score decisions exported from " + sess.cfg.DB
		if opts.Subject != "" {
			desc += " for " + opts.Subject
		}
		fx, err := replay.ExportFixture(desc, recs)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to export fixture", err)
		}
		if err := replay.WriteFixture(fx, opts.Export); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to export fixture", err)
		}
		sess.logger.Info("fixture exported", "path", opts.Export, "cases", len(fx.Cases))
	}
	return replay.ReplayRecords(recs), nil
}

func writeReplay(w io.Writer, out ReplayOutput, verbose bool) {
	if out.Total == 0 {
		fmt.Fprintf(w, "No %s cases found.\n", out.Source)
		return
	}
	fmt.Fprintf(w, "Replay Summary: %d case(s) from %s\n\n", out.Total, out.Source)
	for _, c := range out.Cases {
		status := "✓"
		if !c.Passed {
			status = "✗"
		}
		tier := c.Tier.String()
		if c.Gated {
			tier += " (gated)"
		}
		if verbose || !c.Passed {
			fmt.Fprintf(w, "%s %-40s %s\n", status, c.Name, tier)
		}
		for _, msg := range c.Failures {
			fmt.Fprintf(w, "    %s\n", msg)
		}
	}

	tiers := make([]gate.Tier, 0, len(out.ByTier))
	for t := range out.ByTier {
		tiers = append(tiers, t)
	}
	slices.Sort(tiers)
	fmt.Fprintf(w, "\npassed %d, failed %d, gated %d\n", out.Passed, out.Failed, out.Gated)
	for _, t := range tiers {
		fmt.Fprintf(w, "  %-10s %d\n", t, out.ByTier[t])
	}
	if out.AllPass {
		fmt.Fprintln(w, "✓ All cases reproduced")
	} else {
		fmt.Fprintln(w, "✗ Replay failed")
	}
}
