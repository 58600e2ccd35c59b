package cli

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/equilibrium/internal/encoder"
	"github.com/danielpatrickdp/equilibrium/internal/trajectory"
)

// EncodeOptions holds flags for the encode command.
type EncodeOptions struct {
	*RootOptions
	Decode   bool
	NoCommit bool
}

// EncodeRow is one encoded measurement with its optional decode.
type EncodeRow struct {
	Encoded encoder.EncodedValue   `json:"encoded"`
	Decoded *encoder.DecodedResult `json:"decoded,omitempty"`
}

// EncodeOutput is the result of the encode command.
type EncodeOutput struct {
	SubjectID string      `json:"subject_id"`
	Rows      []EncodeRow `json:"rows"`
	VersionID string      `json:"version_id,omitempty"` // committed snapshot
}

// NewEncodeCommand creates the encode command.
func NewEncodeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EncodeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "encode <subject-id> <dimension> <value>...",
		Short: "Encode behavioral measurements with a subject's quadratic",
		Long: `Encode one or more measurements of a dimension. The encoder state is
committed as a new snapshot version afterwards so later commands see it.

Examples:
  equilibrium encode 6f1c... response_time 820 910 1200
  equilibrium encode 6f1c... scroll_depth 0.4 --decode --format json`,
		Args:          cobra.MinimumNArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEncode(opts, cmd, args)
		},
	}

	cmd.Flags().BoolVar(&opts.Decode, "decode", false, "also decode each value")
	cmd.Flags().BoolVar(&opts.NoCommit, "no-commit", false, "do not commit a snapshot")

	return cmd
}

func runEncode(opts *EncodeOptions, cmd *cobra.Command, args []string) error {
	id, dim := args[0], args[1]
	values, err := parseFloats(args[2:])
	if err != nil {
		return err
	}

	sess, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	out := EncodeOutput{SubjectID: id, Rows: make([]EncodeRow, 0, len(values))}
	for _, v := range values {
		ev, err := sess.reg.Encode(id, v, dim)
		if err != nil {
			return subjectError("failed to encode", err)
		}
		row := EncodeRow{Encoded: ev}
		if opts.Decode {
			dec, err := sess.reg.Decode(id, ev)
			if err != nil {
				return subjectError("failed to decode", err)
			}
			row.Decoded = &dec
		}
		out.Rows = append(out.Rows, row)
	}

	if !opts.NoCommit {
		v, err := sess.reg.Snapshot(id)
		if err != nil {
			return subjectError("failed to commit snapshot", err)
		}
		out.VersionID = v.VersionID
		sess.logger.Debug("snapshot committed", "subject", id, "version", v.VersionID, "hash", v.Hash)
	}

	return opts.formatter(cmd).Success(out, func(w io.Writer) {
		fmt.Fprintf(w, "%-18s  %12s  %10s  %10s  %12s  %10s  %s\n",
			"Dimension", "Value", "Normalized", "Rotated", "f(x)", "Distance", "Trajectory")
		for _, r := range out.Rows {
			ev := r.Encoded
			fmt.Fprintf(w, "%-18s  %12.4f  %10.6f  %10.6f  %12.6f  %10.6f  %s\n",
				ev.Dimension, ev.Original, ev.Normalized, ev.Rotated, ev.QuadraticResult, ev.VertexDistance, ev.Trajectory)
			if d := r.Decoded; d != nil {
				if d.WasComplex {
					fmt.Fprintf(w, "  decoded %.4f (complex %.6f ± %.6fi, confidence %.2f)\n", d.Value, d.Real, d.Imaginary, d.Confidence)
				} else {
					fmt.Fprintf(w, "  decoded %.4f (confidence %.2f)\n", d.Value, d.Confidence)
				}
			}
		}
		if out.VersionID != "" {
			fmt.Fprintf(w, "snapshot %s\n", out.VersionID)
		}
	})
}

func parseFloats(args []string) ([]float64, error) {
	values := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid number %q", a))
		}
		values[i] = v
	}
	return values, nil
}

// NewPredictCommand creates the predict command.
func NewPredictCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "predict <subject-id>",
		Short: "Project a subject's behavior toward its vertex",
		Long: `Project the running centroid of the subject's encodings along its recent
trajectory and report whether and when it reaches the vertex. Fewer than three
encodings give no prediction.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			p, err := sess.reg.Predict(args[0])
			if err != nil {
				return subjectError("failed to predict", err)
			}
			return rootOpts.formatter(cmd).Success(p, func(w io.Writer) {
				writePrediction(w, p)
			})
		},
	}
}

func writePrediction(w io.Writer, p trajectory.Prediction) {
	fmt.Fprintf(w, "data points: %d  confidence: %.3f\n", p.DataPoints, p.Confidence)
	fmt.Fprintf(w, "%s\n", p.Reason)
	path := p.Path
	if path == nil {
		return
	}
	fmt.Fprintf(w, "centroid (%.6f, %.6f) -> vertex (%.6f, %.6f), distance %.6f\n",
		path.Centroid.X, path.Centroid.Y, path.Vertex.X, path.Vertex.Y, path.CurrentDistance)
	if path.Reachable {
		fmt.Fprintf(w, "reachable in %d steps\n", path.StepsToVertex)
	} else {
		fmt.Fprintf(w, "not reachable; closest approach %.6f at step %d\n", path.ClosestApproach, path.ClosestStep)
	}
	if cc := path.CourseCorrection; cc != nil {
		fmt.Fprintf(w, "course correction: %s, %s by %.1f°\n", cc.Severity, cc.Direction, math.Abs(cc.AngleDifference))
	}
	for _, f := range path.DimensionFocus {
		fmt.Fprintf(w, "focus %-18s mean distance %.3f (%s, %d samples)\n", f.Dimension, f.MeanDistance, f.Trend, f.Samples)
	}
}
