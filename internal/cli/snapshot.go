package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// SnapshotRow summarizes one stored snapshot version.
type SnapshotRow struct {
	VersionID  string `json:"version_id"`
	ParentID   string `json:"parent_id,omitempty"`
	Hash       string `json:"hash"`
	DataPoints int    `json:"data_points"`
	Active     bool   `json:"active"`
	CreatedAt  string `json:"created_at"`
}

// NewSnapshotCommand creates the snapshot command group.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Commit, list and roll back encoder snapshots",
	}
	cmd.AddCommand(newSnapshotCommitCommand(rootOpts))
	cmd.AddCommand(newSnapshotListCommand(rootOpts))
	cmd.AddCommand(newSnapshotRollbackCommand(rootOpts))
	return cmd
}

func newSnapshotCommitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "commit <subject-id>",
		Short:         "Commit the subject's encoder state as a new version",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			v, err := sess.reg.Snapshot(args[0])
			if err != nil {
				return subjectError("failed to commit snapshot", err)
			}
			row := SnapshotRow{
				VersionID:  v.VersionID,
				ParentID:   v.ParentID,
				Hash:       v.Hash,
				DataPoints: v.Snapshot.VectorCount,
				Active:     true,
				CreatedAt:  v.CreatedAt.UTC().Format(timeLayout),
			}
			return rootOpts.formatter(cmd).Success(row, func(w io.Writer) {
				fmt.Fprintf(w, "committed %s (hash %s, %d data points)\n", row.VersionID, short(row.Hash), row.DataPoints)
			})
		},
	}
}

func newSnapshotListCommand(rootOpts *RootOptions) *cobra.Command {
	var last int
	cmd := &cobra.Command{
		Use:           "list <subject-id>",
		Short:         "List the subject's snapshot versions, newest first",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			rows, err := snapshotRows(sess, args[0], last)
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Success(rows, func(w io.Writer) {
				writeSnapshotTable(w, rows)
			})
		},
	}
	cmd.Flags().IntVar(&last, "last", 20, "show N most recent versions")
	return cmd
}

func snapshotRows(sess *session, id string, last int) ([]SnapshotRow, error) {
	versions, err := sess.store.ListSnapshots(id, last)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to list snapshots", err)
	}
	active := ""
	if cur, err := sess.store.CurrentSnapshot(id); err == nil {
		active = cur.VersionID
	}
	rows := make([]SnapshotRow, len(versions))
	for i, v := range versions {
		rows[i] = SnapshotRow{
			VersionID:  v.VersionID,
			ParentID:   v.ParentID,
			Hash:       v.Hash,
			DataPoints: v.Snapshot.VectorCount,
			Active:     v.VersionID == active,
			CreatedAt:  v.CreatedAt.UTC().Format(timeLayout),
		}
	}
	return rows, nil
}

func writeSnapshotTable(w io.Writer, rows []SnapshotRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "no snapshots found")
		return
	}
	fmt.Fprintf(w, "%-36s  %-12s  %6s  %-6s  %s\n", "Version", "Hash", "Points", "Active", "Time")
	for _, r := range rows {
		mark := ""
		if r.Active {
			mark = "*"
		}
		fmt.Fprintf(w, "%-36s  %-12s  %6d  %-6s  %s\n", r.VersionID, short(r.Hash), r.DataPoints, mark, r.CreatedAt)
	}
}

func newSnapshotRollbackCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "rollback <subject-id> <version-id>",
		Short:         "Make a stored snapshot version active again",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := rootOpts.open(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			if err := sess.reg.Rollback(args[0], args[1]); err != nil {
				return subjectError("failed to roll back", err)
			}
			sess.logger.Info("rolled back", "subject", args[0], "version", args[1])
			out := map[string]string{"subject_id": args[0], "version_id": args[1]}
			return rootOpts.formatter(cmd).Success(out, func(w io.Writer) {
				fmt.Fprintf(w, "%s now at %s\n", args[0], args[1])
			})
		},
	}
}
