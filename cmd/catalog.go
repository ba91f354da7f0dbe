package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sentinel-group/catalog-sentinel/internal/model"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Catalog intelligence operations",
}

var catalogProcessCmd = &cobra.Command{
	Use:   "process <entry.json>",
	Short: "Run the findability pipeline for one catalog entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var entry model.CatalogEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return fmt.Errorf("parse entry: %w", err)
		}

		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Catalog.Process(cmd.Context(), entry)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var catalogRebuildCmd = &cobra.Command{
	Use:   "rebuild <category>",
	Short: "Rebuild the canonical schema registry for a category",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		rows, err := env.Catalog.RebuildRegistry(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("registry rebuilt for %s: %d canonical attributes\n", args[0], len(rows))
		for _, r := range rows {
			fmt.Printf("  %-24s support %.0f%% (%d products)\n", r.CanonicalName, r.SupportPct*100, r.ProductCount)
		}
		return nil
	},
}

var catalogReportCmd = &cobra.Command{
	Use:   "report <product-id>",
	Short: "Print the findability report for a stored entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Catalog.Report(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	catalogCmd.AddCommand(catalogProcessCmd)
	catalogCmd.AddCommand(catalogRebuildCmd)
	catalogCmd.AddCommand(catalogReportCmd)
	rootCmd.AddCommand(catalogCmd)
}
