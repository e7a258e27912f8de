package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var sendNoNewline bool

var sendCmd = &cobra.Command{
	Use:   "send [job_id] [text...]",
	Short: "Send input to an interactive job",
	Long:  `Send text to the stdin of a job's interactive process. Arguments are joined with spaces and a newline is appended unless -n is given.`,
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		jobID := args[0]
		data := strings.Join(args[1:], " ")
		if !sendNoNewline {
			data += "\n"
		}

		client := NewAgentClient(viper.GetString("url"))
		if err := client.SendInput(jobID, data); err != nil {
			cmd.Printf("Failed to send input: %v\n", err)
			return
		}
		cmd.Printf("Sent %d bytes to job %s\n", len(data), jobID)
	},
}

func init() {
	sendCmd.Flags().BoolVarP(&sendNoNewline, "no-newline", "n", false, "Do not append a newline")
	rootCmd.AddCommand(sendCmd)
}
