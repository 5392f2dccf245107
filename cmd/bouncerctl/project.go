package main

import (
	"fmt"

	"github.com/ashureev/bouncer-ai/internal/projects"
	"github.com/spf13/cobra"
)

func (c *cli) newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage per-project interview configs",
	}
	cmd.AddCommand(c.newProjectImportCmd(), c.newProjectShowCmd(), c.newProjectListCmd())
	return cmd
}

func (c *cli) newProjectImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>...",
		Short: "Validate YAML project configs and store them in the database",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := c.openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			for _, path := range args {
				cfg, err := projects.LoadFile(path)
				if err != nil {
					return err
				}
				if err := repo.UpsertBouncerConfig(cmd.Context(), cfg); err != nil {
					return fmt.Errorf("store %s: %w", cfg.ProjectID, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %s from %s\n", cfg.ProjectID, path)
			}
			return nil
		},
	}
}

func (c *cli) newProjectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Print a stored project config as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := c.openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			cfg, err := repo.GetBouncerConfig(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out, err := projects.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func (c *cli) newProjectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored project IDs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, err := c.openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			cfgs, err := repo.ListBouncerConfigs(cmd.Context())
			if err != nil {
				return err
			}
			for _, cfg := range cfgs {
				fmt.Fprintln(cmd.OutOrStdout(), cfg.ProjectID)
			}
			return nil
		},
	}
}
