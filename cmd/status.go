package cmd

import (
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session",
	RunE: func(cmd *cobra.Command, args []string) error {
		// A server that cannot be reached is reported as a notification;
		// the session is still shown as far as it is known.
		if _, err := manager.Resume(cmd.Context()); err != nil {
			logger.Warn().Err(err).Msg("Resuming session failed")
		}
		return renderer().Status(cmd.OutOrStdout(), manager.Snapshot())
	},
}

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "List recently used servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return renderer().Servers(cmd.OutOrStdout(), servers.List())
	},
}

var serversClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget every recently used server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := servers.Clear(); err != nil {
			return err
		}
		cmd.Println("Server history cleared.")
		return nil
	},
}

var permissionsCmd = &cobra.Command{
	Use:   "permissions",
	Short: "List the objects the current user has permissions on",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, _, err := requireSession(cmd.Context())
		if err != nil {
			return err
		}
		return renderer().Permissions(cmd.OutOrStdout(), sess.Permissions)
	},
}

func init() {
	serversCmd.AddCommand(serversClearCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serversCmd)
	rootCmd.AddCommand(permissionsCmd)
}
