package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var poolsCmd = &cobra.Command{
	Use:   "pools [tenant_id]",
	Short: "List a tenant's pools",
	Long:  `List every pool recorded for the tenant with its slot usage, port range, and status.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewPoolClient(viper.GetString("url"), viper.GetString("admin-key"))

		resp, err := client.ListPools(args[0])
		if err != nil {
			cmd.Printf("Failed to list pools: %v\n", err)
			return
		}

		if len(resp.Pools) == 0 {
			cmd.Println("No pools for this tenant.")
			return
		}

		for _, p := range resp.Pools {
			cmd.Printf("%s%s%s\n", colorBold, p.ID, colorReset)
			cmd.Printf("  %sStatus:%s    %s\n", colorDim, colorReset, colorizeStatus(p.Status))
			cmd.Printf("  %sSlots:%s     %d/%d\n", colorDim, colorReset, p.Assigned, p.Capacity)
			cmd.Printf("  %sPorts:%s     %d-%d\n", colorDim, colorReset, p.PortStart, p.PortEnd)
			cmd.Printf("  %sContainer:%s %s\n", colorDim, colorReset, p.ContainerID)
		}
	},
}

func init() {
	rootCmd.AddCommand(poolsCmd)
}
