package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs known to the agent",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		client := NewAgentClient(viper.GetString("url"))

		jobs, err := client.ListJobs()
		if err != nil {
			cmd.Printf("Failed to list jobs: %v\n", err)
			return
		}

		if len(jobs) == 0 {
			cmd.Println("No jobs")
			return
		}

		cmd.Printf("%s%-38s %-26s %-10s %-12s%s\n", colorBold, "ID", "TYPE", "STATUS", "AGE", colorReset)
		for _, job := range jobs {
			cmd.Printf("%-38s %-26s %s %-12s\n", job.ID, job.Type, colorizeStatus(job.Status), relativeTime(job.CreatedAt))
		}
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
