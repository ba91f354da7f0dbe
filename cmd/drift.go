package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Drift detection operations",
}

var driftSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one drift check across all active algorithms",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		env.Drift.Sweep(cmd.Context())
		env.Drift.RetryHandoffs(cmd.Context())
		return nil
	},
}

var driftCheckCmd = &cobra.Command{
	Use:   "check <algorithm>",
	Short: "Run one drift check for a single algorithm",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		check, err := env.Drift.CheckAlgorithm(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(check, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var driftBaselineCmd = &cobra.Command{
	Use:   "baseline [algorithm]",
	Short: "Recompute rolling baselines (all active algorithms when omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if len(args) == 1 {
			b, err := env.Baselines.Recompute(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("baseline recomputed: %s (%d samples, %d buckets)\n",
				b.Algorithm, b.Stats.Count, len(b.Distribution))
			return nil
		}

		baselines, err := env.Baselines.RecomputeAll(cmd.Context())
		if err != nil {
			return err
		}
		for _, b := range baselines {
			fmt.Printf("baseline recomputed: %s (%d samples, %d buckets)\n",
				b.Algorithm, b.Stats.Count, len(b.Distribution))
		}
		return nil
	},
}

func init() {
	driftCmd.AddCommand(driftSweepCmd)
	driftCmd.AddCommand(driftCheckCmd)
	driftCmd.AddCommand(driftBaselineCmd)
	rootCmd.AddCommand(driftCmd)
}
