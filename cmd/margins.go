package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fixpoint-repair/buyback/internal/model"
	"github.com/fixpoint-repair/buyback/internal/settings"
)

var marginsCmd = &cobra.Command{
	Use:   "margins",
	Short: "Inspect or replace the margin settings document",
}

// -- margins show --

var marginsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored margin settings",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		mc, stored, err := env.Margins.Stored(ctx)
		if err != nil {
			return eris.Wrap(err, "margins show")
		}
		if !stored {
			fmt.Fprintln(os.Stderr, "No margin settings stored; showing defaults.")
		}
		format, _ := cmd.Flags().GetString("format")
		return writeMargins(os.Stdout, mc, format)
	},
}

// -- margins set --

var marginsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Validate and store a margin settings document (JSON or YAML)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		path, _ := cmd.Flags().GetString("file")
		data, err := os.ReadFile(path)
		if err != nil {
			return eris.Wrap(err, "read margin settings file")
		}
		mc, err := settings.DecodeDocument(path, data)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Margins.Save(ctx, mc); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Stored %s margin settings (%d series overrides).\n", mc.Mode(), len(mc.SeriesOverrides))
		return nil
	},
}

func writeMargins(w io.Writer, mc model.MarginConfig, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close() //nolint:errcheck
		return eris.Wrap(enc.Encode(mc), "encode margin settings")
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(mc), "encode margin settings")
	default:
		return eris.Errorf("unknown format %q (json, yaml)", format)
	}
}

func init() {
	marginsShowCmd.Flags().String("format", "json", "output format: json or yaml")
	marginsSetCmd.Flags().String("file", "", "margin settings document (.json, .yaml or .yml)")
	_ = marginsSetCmd.MarkFlagRequired("file")

	marginsCmd.AddCommand(marginsShowCmd)
	marginsCmd.AddCommand(marginsSetCmd)
	rootCmd.AddCommand(marginsCmd)
}
