package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Trigger an on-demand reconciliation pass",
	Long:  `Compare the provisioning authority's active bot set, the pool state store, and runtime reality, and print every repair the pass applied.`,
	Run: func(cmd *cobra.Command, args []string) {
		client := NewPoolClient(viper.GetString("url"), viper.GetString("admin-key"))

		report, err := client.TriggerReconcile()
		if err != nil {
			cmd.Printf("Reconciliation failed: %v\n", err)
			return
		}

		cmd.Printf("%sReconciliation%s  (%dms)\n", colorBold, colorReset, report.DurationMS)
		cmd.Println("──────────────────────────────")
		printIDList(cmd, "Orphans removed", report.OrphansRemoved)
		printIDList(cmd, "Missing bots (need re-provisioning)", report.MissingBots)
		printIDList(cmd, "Pools torn down", report.PoolsTornDown)
		printIDList(cmd, "Unreachable pools", report.UnreachablePools)
	},
}

func printIDList(cmd *cobra.Command, label string, ids []string) {
	cmd.Printf("%s%s:%s %d\n", colorDim, label, colorReset, len(ids))
	for _, id := range ids {
		cmd.Printf("  %s\n", id)
	}
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}
