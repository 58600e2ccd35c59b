package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/equilibrium/internal/identity"
	"github.com/danielpatrickdp/equilibrium/internal/logging"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Last    int
	Trigger string
}

// SubjectRow is one line of the subject listing.
type SubjectRow struct {
	ID            string  `json:"id"`
	Offset        int     `json:"offset"`
	SourceVersion string  `json:"source_version"`
	VertexX       float64 `json:"vertex_x"`
	VertexY       float64 `json:"vertex_y"`
	Locked        bool    `json:"locked"`
	CreatedAt     string  `json:"created_at"`
}

// DecisionRow is one audit log entry.
type DecisionRow struct {
	ID        int64  `json:"id"`
	Trigger   string `json:"trigger"`
	Decision  string `json:"decision"`
	Reason    string `json:"reason"`
	VersionID string `json:"version_id,omitempty"`
	CreatedAt string `json:"created_at"`
}

// SubjectDetail is the inspect output for a single subject.
type SubjectDetail struct {
	Genesis   identity.GenesisRecord `json:"genesis"`
	Actions   int                    `json:"actions"`
	Snapshots []SnapshotRow          `json:"snapshots"`
	Decisions []DecisionRow          `json:"decisions"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect [subject-id]",
		Short: "Show stored subjects, snapshots and audit decisions",
		Long: `Without arguments list every stored subject. With a subject ID show its
genesis record, snapshot versions and most recent audit decisions.

Examples:
  equilibrium inspect --db ./equilibrium.db
  equilibrium inspect 6f1c... --last 5 --trigger score`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runInspectList(opts, cmd)
			}
			return runInspectDetail(opts, cmd, args[0])
		},
	}

	cmd.Flags().IntVar(&opts.Last, "last", 20, "show N most recent snapshots and decisions")
	cmd.Flags().StringVar(&opts.Trigger, "trigger", "", "filter decisions by trigger (score|verify|lock|ownership|seal)")

	return cmd
}

func runInspectList(opts *InspectOptions, cmd *cobra.Command) error {
	sess, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	recs, err := sess.store.ListGenesis()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list subjects", err)
	}
	rows := make([]SubjectRow, len(recs))
	for i, r := range recs {
		rows[i] = SubjectRow{
			ID:            r.ID,
			Offset:        r.Offset,
			SourceVersion: r.SourceVersion,
			VertexX:       r.VertexX,
			VertexY:       r.VertexY,
			Locked:        r.Locked,
			CreatedAt:     r.CreatedTime().Format(timeLayout),
		}
	}

	return opts.formatter(cmd).Success(rows, func(w io.Writer) {
		if len(rows) == 0 {
			fmt.Fprintln(w, "no subjects found")
			return
		}
		fmt.Fprintf(w, "%-36s  %6s  %14s  %14s  %-6s  %s\n", "Subject", "Offset", "Vertex X", "Vertex Y", "Locked", "Created")
		for _, r := range rows {
			locked := ""
			if r.Locked {
				locked = "yes"
			}
			fmt.Fprintf(w, "%-36s  %6d  %14.8f  %14.8f  %-6s  %s\n", r.ID, r.Offset, r.VertexX, r.VertexY, locked, r.CreatedAt)
		}
	})
}

func runInspectDetail(opts *InspectOptions, cmd *cobra.Command, id string) error {
	sess, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	rec, err := sess.store.LoadGenesis(id)
	if err != nil {
		return subjectError("failed to load subject", err)
	}
	actions, err := sess.store.LoadActions(id)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load actions", err)
	}
	snaps, err := snapshotRows(sess, id, opts.Last)
	if err != nil {
		return err
	}
	entries, err := logging.ListDecisions(sess.store.DB(), id, opts.Trigger, opts.Last)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list decisions", err)
	}

	out := SubjectDetail{
		Genesis:   rec,
		Actions:   len(actions),
		Snapshots: snaps,
		Decisions: make([]DecisionRow, len(entries)),
	}
	for i, e := range entries {
		out.Decisions[i] = DecisionRow{
			ID:        e.ID,
			Trigger:   e.TriggerType,
			Decision:  e.Decision,
			Reason:    e.Reason,
			VersionID: e.VersionID,
			CreatedAt: e.CreatedAt.UTC().Format(timeLayout),
		}
	}

	return opts.formatter(cmd).Success(out, func(w io.Writer) {
		writeGenesis(w, out.Genesis)
		fmt.Fprintf(w, "  actions: %d\n", out.Actions)

		fmt.Fprintln(w, "\nSnapshots:")
		writeSnapshotTable(w, out.Snapshots)

		fmt.Fprintln(w, "\nDecisions:")
		if len(out.Decisions) == 0 {
			fmt.Fprintln(w, "no decisions found")
			return
		}
		fmt.Fprintf(w, "%6s  %-10s  %-10s  %-20s  %s\n", "ID", "Trigger", "Decision", "Time", "Reason")
		for _, d := range out.Decisions {
			fmt.Fprintf(w, "%6d  %-10s  %-10s  %-20s  %s\n", d.ID, d.Trigger, d.Decision, d.CreatedAt, d.Reason)
		}
	})
}
