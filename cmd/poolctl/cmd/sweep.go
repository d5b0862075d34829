package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ANSI helpers shared by the printing commands.
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Trigger an on-demand health sweep",
	Long:  `Run one health sweep over every pool and bot and print the checks, issues, and recovery actions it produced.`,
	Run: func(cmd *cobra.Command, args []string) {
		client := NewPoolClient(viper.GetString("url"), viper.GetString("admin-key"))

		result, err := client.TriggerSweep()
		if err != nil {
			cmd.Printf("Sweep failed: %v\n", err)
			return
		}

		cmd.Printf("%sHealth Sweep%s  (%dms", colorBold, colorReset, result.DurationMS)
		if result.Partial {
			cmd.Printf(", %spartial%s", colorYellow, colorReset)
		}
		cmd.Println(")")
		cmd.Println("──────────────────────────────")

		cmd.Printf("%sPools:%s\n", colorDim, colorReset)
		for _, p := range result.Pools {
			cmd.Printf("  %s %s%s\n", colorizeStatus(p.Status), p.TargetID, suffix(p.Message))
		}
		cmd.Printf("%sBots:%s\n", colorDim, colorReset)
		for _, b := range result.Bots {
			cmd.Printf("  %s %s%s\n", colorizeStatus(b.Status), b.TargetID, suffix(b.Message))
		}

		if len(result.Issues) > 0 {
			cmd.Printf("%sIssues:%s\n", colorDim, colorReset)
			for _, i := range result.Issues {
				cmd.Printf("  %s%s%s %s: %s\n", colorRed, i.Type, colorReset, i.TargetID, i.Message)
			}
		}
		if len(result.Actions) > 0 {
			cmd.Printf("%sRecovery actions:%s\n", colorDim, colorReset)
			for _, a := range result.Actions {
				cmd.Printf("  %s%s%s %s: %s\n", colorYellow, a.Type, colorReset, a.TargetID, a.Action)
			}
		}
	},
}

func colorizeStatus(status string) string {
	switch status {
	case "healthy", "running":
		return colorGreen + status + colorReset
	case "degraded", "unhealthy", "pending", "provisioning":
		return colorYellow + status + colorReset
	case "failed", "terminated", "stopped":
		return colorRed + status + colorReset
	default:
		return status
	}
}

func suffix(msg string) string {
	if msg == "" {
		return ""
	}
	return " (" + msg + ")"
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
