package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/claimtype/internal/db"
)

var errNoHistoryDB = errors.New("no history database configured (use --history-db or history_db)")

func newMigrateCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the prediction history schema",
	}

	// open resolves the history path and opens it without migrating.
	open := func() (*db.DB, error) {
		cfg, err := g.resolve(nil)
		if err != nil {
			return nil, err
		}
		path := cfg.GetHistoryDB()
		if path == "" {
			return nil, errNoHistoryDB
		}
		return db.OpenDB(path)
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				d, err := open()
				if err != nil {
					return err
				}
				defer d.Close()
				if err := d.MigrateUp(); err != nil {
					return err
				}
				return printVersion(cmd, d)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				d, err := open()
				if err != nil {
					return err
				}
				defer d.Close()
				if err := d.MigrateDown(); err != nil {
					return err
				}
				return printVersion(cmd, d)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				d, err := open()
				if err != nil {
					return err
				}
				defer d.Close()
				return printVersion(cmd, d)
			},
		},
	)
	return cmd
}

func printVersion(cmd *cobra.Command, d *db.DB) error {
	v, dirty, err := d.MigrateVersion()
	if err != nil {
		return err
	}
	latest, err := db.LatestMigrationVersion()
	if err != nil {
		return err
	}
	state := "clean"
	if dirty {
		state = "dirty"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d of %d (%s)\n", v, latest, state)
	return nil
}
