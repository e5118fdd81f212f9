package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var recalculateCmd = &cobra.Command{
	Use:   "recalculate",
	Short: "Refresh cached offers for every active price row",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Recalc.Run(ctx)
		if err != nil {
			if res != nil {
				fmt.Fprintf(os.Stderr, "Updated %d rows before failing.\n", res.Updated)
			}
			return eris.Wrap(err, "recalculate")
		}
		fmt.Fprintf(os.Stdout, "Updated offers for %d rows.\n", res.Updated)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(recalculateCmd)
}
