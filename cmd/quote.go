package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fixpoint-repair/buyback/internal/pricing"
)

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Price one device as the quote API would",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		var req pricing.QuoteRequest
		req.Model, _ = cmd.Flags().GetString("model")
		req.Storage, _ = cmd.Flags().GetString("storage")
		req.Network, _ = cmd.Flags().GetString("network")
		req.Condition, _ = cmd.Flags().GetString("condition")

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		q, err := env.Quotes.Quote(ctx, req)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(pricing.Respond(q, err)); encErr != nil {
			return encErr
		}
		if err != nil && pricing.CodeOf(err) == "" {
			return err
		}
		return nil
	},
}

var maxPriceCmd = &cobra.Command{
	Use:   "max-price <model>...",
	Short: "Show the highest Grade A offer per model name",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		formatMaxPrices(os.Stdout, env.Prices.MaxPrices(ctx, args))
		return nil
	},
}

// formatMaxPrices writes model names and prices sorted by name; models with
// no pricing show a dash.
func formatMaxPrices(out io.Writer, prices map[string]float64) {
	names := make([]string, 0, len(prices))
	for n := range prices {
		names = append(names, n)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "MODEL\tUP TO")
	for _, n := range names {
		price := "-"
		if p := prices[n]; p > 0 {
			price = fmt.Sprintf("$%.2f", p)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\n", n, price)
	}
	_ = w.Flush()
}

func init() {
	quoteCmd.Flags().String("model", "", "model name, e.g. \"iPhone 15 Pro\"")
	quoteCmd.Flags().String("storage", "", "storage size, e.g. 256GB")
	quoteCmd.Flags().String("network", "Unlocked", "Unlocked or a carrier name")
	quoteCmd.Flags().String("condition", "", "customer condition, e.g. flawless, good, broken")

	rootCmd.AddCommand(quoteCmd)
	rootCmd.AddCommand(maxPriceCmd)
}
