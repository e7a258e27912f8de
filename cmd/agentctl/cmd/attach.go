package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	attachClientID string
	attachFollow   bool
)

var attachCmd = &cobra.Command{
	Use:   "attach [job_id]",
	Short: "Attach a tunnel client to an interactive job",
	Long: `Attach a tunnel client to a job. Any previously attached client is replaced.
With --follow the job's output is streamed until the job finishes or Ctrl+C.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		jobID := args[0]
		client := NewAgentClient(viper.GetString("url"))

		resp, err := client.Attach(jobID, attachClientID)
		if err != nil {
			cmd.Printf("Failed to attach: %v\n", err)
			return
		}

		cmd.Printf("%s✓%s Attached to job %s as %s%s%s\n", colorGreen, colorReset, resp.JobID, colorCyan, resp.ClientID, colorReset)
		if resp.Replaced {
			cmd.Printf("%sA previously attached client was replaced%s\n", colorYellow, colorReset)
		}

		if !attachFollow {
			return
		}

		// Trap Ctrl+C to stop following gracefully
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := client.StreamOutput(ctx, jobID, cmd.OutOrStdout()); err != nil {
			cmd.Printf("Error streaming output: %v\n", err)
		}
	},
}

func init() {
	attachCmd.Flags().StringVar(&attachClientID, "client", "", "Client ID to attach as (generated when empty)")
	attachCmd.Flags().BoolVarP(&attachFollow, "follow", "f", false, "Stream the job's output after attaching")
	rootCmd.AddCommand(attachCmd)
}
