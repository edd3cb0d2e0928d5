package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sppchat",
	Short: "Bluetooth serial (SPP) chat tool",
	Long: `Bluetooth Classic Serial Port Profile (SPP) command-line tool that provides:

- Scan for nearby Bluetooth Classic devices
- Interactive text chat with an SPP device
- One-shot sends for scripting
- Bridge an SPP link to a PTY for serial tools (minicom, screen, pyserial)

Links are opened over a raw RFCOMM socket or through the BlueZ daemon.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// main() prints errors itself
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("sppchat %s (commit %s, built %s)\n", formatVersion(version), commit, date))

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(bridgeCmd)

	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("transport", "", "Link backend (rfcomm, bluez, memory)")
	rootCmd.PersistentFlags().String("adapter", "", "HCI adapter (default hci0)")
	rootCmd.PersistentFlags().Uint8("channel", 0, "RFCOMM channel for the rfcomm transport (default 1)")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
