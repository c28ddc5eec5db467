package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/kintoadm/internal/history"
	"github.com/fakeyudi/kintoadm/internal/session"
	"github.com/fakeyudi/kintoadm/internal/signoff"
	"github.com/fakeyudi/kintoadm/internal/tui"
)

var browseCmd = &cobra.Command{
	Use:   "browse <bucket> <collection>",
	Short: "Browse the history and sign-off state of a collection interactively",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !term.IsTerminal(os.Stdout.Fd()) {
			return fmt.Errorf("browse needs an interactive terminal; use \"kintoadm history\" or \"kintoadm signoff status\" instead")
		}
		bid, cid := args[0], args[1]
		sess, client, err := requireSession(cmd.Context())
		if err != nil {
			return err
		}

		pager := history.NewPager(client, bus, history.Target{Kind: history.KindCollection, Bucket: bid, Collection: cid}, logger)
		pager.SetPageSize(cfg.PageSize)
		wf := signoff.NewWorkflow(client, bus, logger)

		// The TUI shows notifications itself.
		stopPrinting()
		return tui.Run(cmd.Context(), tui.Deps{
			Pager:    pager,
			Workflow: wf,
			LoadSignoff: func(ctx context.Context) (*signoff.Info, error) {
				return wf.Load(ctx, sess.ServerInfo, bid, cid)
			},
			Session: currentSession,
			Bus:     bus,
			Store:   store,
		})
	},
}

// currentSession re-reads the persisted credentials so that a logout from
// another process shows up in a running browser.
func currentSession() session.Session {
	if _, ok := store.Get(session.AuthKey); !ok {
		if err := manager.Logout(); err != nil {
			logger.Warn().Err(err).Msg("Logout after external change failed")
		}
	}
	return manager.Snapshot()
}

func init() {
	rootCmd.AddCommand(browseCmd)
}
