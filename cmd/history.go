package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fakeyudi/kintoadm/internal/history"
)

var (
	historyAll      bool
	historyMaxPages int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the change history of a collection, group or record",
}

var historyCollectionCmd = &cobra.Command{
	Use:   "collection <bucket> <collection>",
	Short: "Show the history of a collection and its records",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHistory(cmd, history.Target{Kind: history.KindCollection, Bucket: args[0], Collection: args[1]})
	},
}

var historyGroupCmd = &cobra.Command{
	Use:   "group <bucket> <group>",
	Short: "Show the history of a group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHistory(cmd, history.Target{Kind: history.KindGroup, Bucket: args[0], Group: args[1]})
	},
}

var historyRecordCmd = &cobra.Command{
	Use:   "record <bucket> <collection> <record>",
	Short: "Show the history of a record",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHistory(cmd, history.Target{Kind: history.KindRecord, Bucket: args[0], Collection: args[1], Record: args[2]})
	},
}

func runHistory(cmd *cobra.Command, target history.Target) error {
	_, client, err := requireSession(cmd.Context())
	if err != nil {
		return err
	}

	pager := history.NewPager(client, bus, target, logger)
	pager.SetPageSize(cfg.PageSize)
	if err := pager.Load(cmd.Context()); err != nil {
		return err
	}
	if historyAll {
		if err := history.Collect(cmd.Context(), pager, historyMaxPages); err != nil {
			return err
		}
	}
	return renderer().History(cmd.OutOrStdout(), target, pager.State())
}

func init() {
	historyCmd.PersistentFlags().BoolVar(&historyAll, "all", false, "follow pagination until the history is exhausted")
	historyCmd.PersistentFlags().IntVar(&historyMaxPages, "max-pages", 0, "with --all, stop after this many pages (0 = no limit)")
	historyCmd.AddCommand(historyCollectionCmd, historyGroupCmd, historyRecordCmd)
	rootCmd.AddCommand(historyCmd)
}
