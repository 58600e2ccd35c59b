package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/equilibrium/internal/gate"
)

// ActionOutput is the result of the action command.
type ActionOutput struct {
	SubjectID     string `json:"subject_id"`
	Recorded      int    `json:"recorded"`
	HistoryLength int    `json:"history_length"`
}

// NewActionCommand creates the action command.
func NewActionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "action <subject-id> <score>...",
		Short: "Record scored actions for a subject",
		Long: `Append one or more action scores to the subject's history. Scores are
expected in [0, 1]; values outside that range are recorded as given.

Examples:
  equilibrium action 6f1c... 0.82 0.91 0.77`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			scores, err := parseFloats(args[1:])
			if err != nil {
				return err
			}
			sess, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			out := ActionOutput{SubjectID: args[0]}
			for _, s := range scores {
				if s < 0 || s > 1 {
					sess.logger.Warn("score outside [0, 1]", "subject", args[0], "score", s)
				}
				n, err := sess.reg.RecordAction(args[0], gate.Action{Score: s})
				if err != nil {
					return subjectError("failed to record action", err)
				}
				out.Recorded++
				out.HistoryLength = n
			}
			return rootOpts.formatter(cmd).Success(out, func(w io.Writer) {
				fmt.Fprintf(w, "recorded %d action(s); history length %d\n", out.Recorded, out.HistoryLength)
			})
		},
	}
}

// NewScoreCommand creates the score command.
func NewScoreCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "score <subject-id>",
		Short: "Evaluate a subject's access tier",
		Long: `Evaluate the subject's action history through the access tier gate and
record the decision in the audit log.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			res, err := sess.reg.Score(args[0])
			if err != nil {
				return subjectError("failed to score", err)
			}
			sess.logger.Debug("scored", "subject", args[0], "tier", res.Tier, "gated", res.Gated)
			return rootOpts.formatter(cmd).Success(res, func(w io.Writer) {
				writeTier(w, res, rootOpts.Verbose)
			})
		},
	}
}

func writeTier(w io.Writer, res gate.Result, verbose bool) {
	fmt.Fprintf(w, "tier: %s\n", res.Tier)
	fmt.Fprintf(w, "%s\n", res.Reason)
	if res.Gated {
		fmt.Fprintf(w, "gated: %d more action(s) needed\n", res.Remaining)
		return
	}
	d := res.Diagnostics
	if d == nil {
		return
	}
	fmt.Fprintf(w, "effective score %.4f (aggregate %.4f), light ratio %.3f\n", d.EffectiveScore, d.AggregateScore, d.LightRatio)
	if d.EntropyPenaltyApplied {
		fmt.Fprintf(w, "entropy %.3f bits: penalty %.1f%%\n", d.Entropy, d.EntropyPenalty*100)
	}
	if d.LightRatioCapped {
		fmt.Fprintf(w, "capped from %s by light ratio\n", d.RawTier)
	}
	if verbose {
		fmt.Fprintf(w, "history %d, weight sum %.0f, entropy window %d, entropy %.4f bits\n",
			d.HistoryLength, d.WeightSum, d.EntropyWindow, d.Entropy)
	}
}
