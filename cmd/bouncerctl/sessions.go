package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func (c *cli) newSessionsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List live interview sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, err := c.openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			infos, err := repo.ListSessions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tVERSION\tPROJECTS\tUPDATED\tEXPIRES")
			for _, s := range infos {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n",
					s.Key, s.Version, s.Projects,
					s.UpdatedAt.UTC().Format(time.RFC3339),
					s.ExpiresAt.UTC().Format(time.RFC3339),
				)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum sessions to list")
	cmd.AddCommand(c.newSweepCmd())
	return cmd
}

func (c *cli) newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired sessions now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, err := c.openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			n, err := repo.CleanupExpiredSessions(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d expired sessions\n", n)
			return nil
		},
	}
}
