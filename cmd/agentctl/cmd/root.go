package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "agentctl",
	Short: "agentctl inspects and drives the jobs of a local robot agent",
	Long: `agentctl is the command-line interface for a robot agent's control API.

The agent runs server-assigned jobs as Docker containers. Interactive jobs
can be driven through a tunnel: attach a client, send input and follow
the process output.

Common workflows:

  List jobs known to the agent:
    agentctl list

  Check a job:
    agentctl status <job-id>

  Attach to an interactive job and follow its output:
    agentctl attach <job-id> --follow

  Send a line of input:
    agentctl send <job-id> print(1 + 1)

Configuration:
  Set the agent endpoint via flag, environment variable or config file:
    AGENTCTL_URL    Control API endpoint (default: http://localhost:6161)`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".agentctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".agentctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "AGENTCTL_VARNAME"
	viper.SetEnvPrefix("AGENTCTL")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.agentctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "Agent control API URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
}
