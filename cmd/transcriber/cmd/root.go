package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"kotoba-transcriber/cmd/transcriber/cmd/serve"
	"kotoba-transcriber/cmd/transcriber/cmd/transcribe"
	"kotoba-transcriber/cmd/transcriber/cmd/version"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "transcriber",
	Short: "Japanese speech-to-text service with timestamped segments",
	Long: `Japanese speech-to-text service with timestamped segments.
- serve: run the HTTP service (GET/POST /transcribe)
- transcribe: transcribe local media files and print JSON
The model is loaded once, on first use, and shared by all requests.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serve.Cmd)
	rootCmd.AddCommand(transcribe.Cmd)
	rootCmd.AddCommand(version.Cmd)

	rootCmd.PersistentFlags().StringP("config", "c", "", "YAML config file (default $CONFIG_FILE)")
	rootCmd.PersistentFlags().BoolP("verbose", "V", false, "verbose output")
}
