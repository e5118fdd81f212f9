package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fixpoint-repair/buyback/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "buyback",
	Short: "Device buyback pricing engine",
	Long:  "Ingests wholesale price sheets, applies margin policies and serves customer buyback quotes.",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		if err := config.InitLogger(c.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		cfg = c

		zap.L().Debug("config loaded",
			zap.String("command", cmd.Name()),
			zap.String("store", c.Store.Driver),
			zap.String("settings_backend", c.Settings.Backend),
		)
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	// Long ingests and recalcs stop at the next store call on Ctrl-C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
