package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/fixpoint-repair/buyback/internal/model"
	"github.com/fixpoint-repair/buyback/internal/store"
)

var rowsCmd = &cobra.Command{
	Use:   "rows",
	Short: "Inspect and adjust individual price rows",
}

// -- rows list --

var rowsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active price rows",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		var filter store.RowFilter
		filter.ModelNameContains, _ = cmd.Flags().GetString("model")
		filter.Storage, _ = cmd.Flags().GetString("storage")
		filter.Network, _ = cmd.Flags().GetString("network")
		filter.Limit, _ = cmd.Flags().GetInt("limit")

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		rows, err := env.Store.ListActiveRows(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "rows list")
		}
		if len(rows) == 0 {
			fmt.Fprintln(os.Stderr, "No price rows found.")
			return nil
		}
		formatRows(os.Stdout, rows)
		return nil
	},
}

// -- rows override --

var rowsOverrideCmd = &cobra.Command{
	Use:   "override <row-id>",
	Short: "Pin offer prices for a row, e.g. --set gradeA=475 --set doa=20",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		sets, _ := cmd.Flags().GetStringArray("set")
		reset, _ := cmd.Flags().GetBool("clear")
		if len(sets) == 0 && !reset {
			return eris.New("nothing to do: pass --set grade=price or --clear")
		}

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		row, err := env.Store.GetPriceRowByID(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "rows override")
		}
		if row == nil {
			return eris.Errorf("price row %s not found", args[0])
		}

		overrides := row.Overrides
		if reset {
			overrides = model.GradePrices{}
		}
		if err := applyOverrides(&overrides, sets); err != nil {
			return err
		}
		if err := env.Store.SetOverrides(ctx, row.ID, overrides); err != nil {
			return eris.Wrap(err, "rows override")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(overrides)
	},
}

// -- rows deactivate / activate --

func setActiveCmd(use, short string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <row-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			env, err := initEnv(ctx, "cli")
			if err != nil {
				return err
			}
			defer env.Close()

			if err := env.Store.SetActive(ctx, args[0], active); err != nil {
				if eris.Is(err, store.ErrNotFound) {
					return eris.Errorf("price row %s not found", args[0])
				}
				return eris.Wrapf(err, "rows %s", use)
			}
			fmt.Fprintf(os.Stdout, "Row %s %sd.\n", args[0], use)
			return nil
		},
	}
}

var (
	rowsDeactivateCmd = setActiveCmd("deactivate", "Hide a row from quotes and max-price", false)
	rowsActivateCmd   = setActiveCmd("activate", "Return a deactivated row to service", true)
)

// applyOverrides parses grade=price pairs into o. An empty price clears
// the grade's override.
func applyOverrides(o *model.GradePrices, sets []string) error {
	for _, s := range sets {
		name, value, ok := strings.Cut(s, "=")
		if !ok {
			return eris.Errorf("invalid override %q: want grade=price", s)
		}
		g := model.Grade(strings.TrimSpace(name))
		if !g.Valid() {
			return eris.Errorf("invalid override %q: unknown grade %q", s, name)
		}
		value = strings.TrimSpace(value)
		if value == "" {
			o.Set(g, nil)
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimPrefix(value, "$"), 64)
		if err != nil || v < 0 {
			return eris.Errorf("invalid override %q: price must be a number >= 0", s)
		}
		o.Set(g, &v)
	}
	return nil
}

func formatRows(out io.Writer, rows []model.PriceRow) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tMODEL\tNETWORK\tGRADE A\tOFFER A\tOVERRIDE A")
	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Model, r.Network,
			money(r.Prices.GradeA), money(r.Offers.GradeA), money(r.Overrides.GradeA),
		)
	}
	_ = w.Flush()
}

func money(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("$%.2f", *v)
}

func init() {
	rowsListCmd.Flags().String("model", "", "model name substring")
	rowsListCmd.Flags().String("storage", "", "exact storage, e.g. 256GB")
	rowsListCmd.Flags().String("network", "", "exact network")
	rowsListCmd.Flags().Int("limit", 100, "max number of rows to display")

	rowsOverrideCmd.Flags().StringArray("set", nil, "grade=price; an empty price clears that grade")
	rowsOverrideCmd.Flags().Bool("clear", false, "drop all existing overrides first")

	rowsCmd.AddCommand(rowsListCmd)
	rowsCmd.AddCommand(rowsOverrideCmd)
	rowsCmd.AddCommand(rowsDeactivateCmd)
	rowsCmd.AddCommand(rowsActivateCmd)
	rootCmd.AddCommand(rowsCmd)
}
