package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/kintoadm/internal/kinto"
	"github.com/fakeyudi/kintoadm/internal/signoff"
)

var signoffComment string

var signoffCmd = &cobra.Command{
	Use:   "signoff",
	Short: "Inspect and drive the review workflow of a signed collection",
}

var signoffStatusCmd = &cobra.Command{
	Use:   "status <bucket> <collection>",
	Short: "Show the review status and pending changes",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		bid, cid := args[0], args[1]
		sess, client, err := requireSession(cmd.Context())
		if err != nil {
			return err
		}
		si, err := signoff.NewWorkflow(client, bus, logger).Load(cmd.Context(), sess.ServerInfo, bid, cid)
		if err != nil {
			return err
		}
		return renderer().Signoff(cmd.OutOrStdout(), bid, cid, si)
	},
}

// signoffAction runs a review action on the source collection of bid/cid
// and prints the refreshed status.
type signoffAction func(ctx context.Context, wf *signoff.Workflow, si *signoff.Info) (*kinto.Collection, error)

func newSignoffActionCmd(use, short string, action signoffAction) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <bucket> <collection>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bid, cid := args[0], args[1]
			sess, client, err := requireSession(cmd.Context())
			if err != nil {
				return err
			}
			wf := signoff.NewWorkflow(client, bus, logger)
			si, err := wf.Load(cmd.Context(), sess.ServerInfo, bid, cid)
			if err != nil {
				return err
			}
			if si == nil {
				return fmt.Errorf("sign-off is not configured for %s/%s", bid, cid)
			}
			if _, err := action(cmd.Context(), wf, si); err != nil {
				return err
			}
			si, err = wf.Load(cmd.Context(), sess.ServerInfo, bid, cid)
			if err != nil {
				return err
			}
			return renderer().Signoff(cmd.OutOrStdout(), bid, cid, si)
		},
	}
}

var (
	signoffRequestReviewCmd = newSignoffActionCmd("request-review", "Submit the work in progress for review",
		func(ctx context.Context, wf *signoff.Workflow, si *signoff.Info) (*kinto.Collection, error) {
			return wf.RequestReview(ctx, si, signoffComment)
		})
	signoffApproveCmd = newSignoffActionCmd("approve", "Approve the changes under review",
		func(ctx context.Context, wf *signoff.Workflow, si *signoff.Info) (*kinto.Collection, error) {
			return wf.Approve(ctx, si)
		})
	signoffDeclineCmd = newSignoffActionCmd("decline", "Send the changes under review back to the editors",
		func(ctx context.Context, wf *signoff.Workflow, si *signoff.Info) (*kinto.Collection, error) {
			return wf.Decline(ctx, si, signoffComment)
		})
	signoffRollbackCmd = newSignoffActionCmd("rollback", "Discard the pending changes of the source collection",
		func(ctx context.Context, wf *signoff.Workflow, si *signoff.Info) (*kinto.Collection, error) {
			return wf.Rollback(ctx, si)
		})
)

func init() {
	signoffRequestReviewCmd.Flags().StringVarP(&signoffComment, "comment", "m", "", "comment for the reviewers")
	signoffDeclineCmd.Flags().StringVarP(&signoffComment, "comment", "m", "", "reason for declining")
	signoffCmd.AddCommand(signoffStatusCmd, signoffRequestReviewCmd, signoffApproveCmd, signoffDeclineCmd, signoffRollbackCmd)
	rootCmd.AddCommand(signoffCmd)
}
