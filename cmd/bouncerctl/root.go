package main

import (
	"fmt"
	"strings"

	"github.com/ashureev/bouncer-ai/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultDBPath = "./data/bouncer.db"

// cli carries the per-invocation configuration shared by subcommands.
type cli struct {
	v *viper.Viper
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}
	c.v.SetEnvPrefix("BOUNCER")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	root := &cobra.Command{
		Use:          "bouncerctl",
		Short:        "Operator tools for the bouncer.ai interview service.",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("db", defaultDBPath, "SQLite database path (env BOUNCER_DB)")
	_ = c.v.BindPFlag("db", root.PersistentFlags().Lookup("db"))

	root.AddCommand(
		c.newProjectCmd(),
		c.newAllocateCmd(),
		c.newSignCmd(),
		c.newVerifyCmd(),
		c.newSessionsCmd(),
	)
	return root
}

func (c *cli) openRepo() (*store.SQLiteStore, error) {
	path := c.v.GetString("db")
	repo, err := store.NewSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return repo, nil
}
