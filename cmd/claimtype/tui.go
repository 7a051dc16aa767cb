package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/banshee-data/claimtype/internal/tui"
)

func newTUICmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Fill in the claim form in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.resolve(nil)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer rt.Close(context.Background())
			return tui.Run(ctx, rt.pred, rt.loadErr)
		},
	}
}
