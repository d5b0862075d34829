package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve [bot_id]",
	Short: "Find where a bot is physically running",
	Long:  `Resolve a bot identifier to its pool, slot, port, and container handle.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewPoolClient(viper.GetString("url"), viper.GetString("admin-key"))

		p, err := client.Resolve(args[0])
		if err != nil {
			cmd.Printf("Failed to resolve bot: %v\n", err)
			return
		}

		cmd.Printf("%sBot %s%s\n", colorBold, p.BotID, colorReset)
		if p.Legacy {
			cmd.Printf("  %sMode:%s      legacy (dedicated container)\n", colorDim, colorReset)
		} else {
			cmd.Printf("  %sPool:%s      %s\n", colorDim, colorReset, p.PoolID)
			cmd.Printf("  %sSlot:%s      %d\n", colorDim, colorReset, p.Slot)
		}
		cmd.Printf("  %sPort:%s      %d\n", colorDim, colorReset, p.Port)
		cmd.Printf("  %sContainer:%s %s\n", colorDim, colorReset, p.ContainerID)
	},
}

var releaseCmd = &cobra.Command{
	Use:   "release [bot_id]",
	Short: "Free a bot's slot",
	Long:  `Stop the bot's process and release its slot and port back to the pool.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewPoolClient(viper.GetString("url"), viper.GetString("admin-key"))

		if err := client.Release(args[0]); err != nil {
			cmd.Printf("Failed to release bot: %v\n", err)
			return
		}
		cmd.Printf("%sReleased%s %s\n", colorGreen, colorReset, args[0])
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(releaseCmd)
}
