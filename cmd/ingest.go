package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fixpoint-repair/buyback/internal/model"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Import a wholesale price sheet",
	Long: "Reads a CSV or XLSX price sheet from a local file, an http(s) URL or an ftp URL " +
		"and upserts its rows. Every run is recorded in the pricing update log.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		file, _ := cmd.Flags().GetString("file")
		url, _ := cmd.Flags().GetString("url")
		source, _ := cmd.Flags().GetString("source")
		recalc, _ := cmd.Flags().GetBool("recalculate")

		location := file
		if url != "" {
			location = url
		}
		if (file == "") == (url == "") {
			return eris.New("exactly one of --file or --url is required")
		}

		env, err := initEnv(ctx, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		if source == "" {
			source = cfg.Ingest.Source
		}
		res, err := env.Ingester.RunSource(ctx, source, location)
		if res != nil {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(res)
		}
		if err != nil {
			return eris.Wrap(err, "ingest")
		}
		if res.Status == model.UpdateStatusFailed {
			return eris.Errorf("ingest: sheet %s rejected", location)
		}

		if recalc {
			rr, err := env.Recalc.Run(ctx)
			if err != nil {
				return eris.Wrap(err, "recalculate after ingest")
			}
			zap.L().Info("offers recalculated", zap.Int("updated", rr.Updated))
			fmt.Fprintf(os.Stderr, "Recalculated offers for %d rows.\n", rr.Updated)
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("file", "", "local .csv or .xlsx price sheet")
	ingestCmd.Flags().String("url", "", "http(s) or ftp URL of the price sheet")
	ingestCmd.Flags().String("source", "", "source label recorded in the update log (default from config)")
	ingestCmd.Flags().Bool("recalculate", false, "refresh cached offers after a successful import")
	rootCmd.AddCommand(ingestCmd)
}
