package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Version information
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"

	// Global flags
	configPath  string
	verbose     bool
	waitTimeout = defaultWaitTimeout
)

var rootCmd = &cobra.Command{
	Use:   "tunnelsync",
	Short: "tunnelsync - Control a background tunnel service",
	Long: `tunnelsync - Keep this terminal in sync with a background tunnel service

The tunnel service runs detached from the client. tunnelsync binds to it over
a local endpoint, reports its state and drives start, stop and restart.

Configuration:
  First time: Run 'tunnelsync config init' to write ~/.tunnelsync/config.yaml
  Subsequent: Just run 'tunnelsync start' or 'tunnelsync status'

Examples:
  tunnelsync config init            # Set up configuration
  tunnelsync start --vpn            # Launch the service in VPN mode
  tunnelsync status --watch         # Follow state and traffic
  tunnelsync restart                # Apply the saved VPN preference
  tunnelsync stop                   # Stop the service`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ~/.tunnelsync/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().DurationVar(&waitTimeout, "timeout", defaultWaitTimeout, "How long to wait for the service to settle")

	rootCmd.AddCommand(versionCmd)
	// remaining commands are added in their own init() functions
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tunnelsync\n")
		fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
		fmt.Printf("Version:     %s\n", Version)
		fmt.Printf("Git Commit:  %s\n", GitCommit)
		fmt.Printf("Build Time:  %s\n", BuildTime)
		fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version information
func SetVersion(version, commit, buildTime string) {
	Version = version
	GitCommit = commit
	BuildTime = buildTime
}
