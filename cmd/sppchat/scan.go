package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/sppchat/internal/device"
	"github.com/srg/sppchat/internal/discovery"
	"github.com/srg/sppchat/pkg/config"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for Bluetooth Classic devices",
	Long: `Run BR/EDR discovery on the adapter and list the devices found,
strongest signal first. Devices BlueZ already knows (paired or cached) are
included.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanSPPOnly  bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default from config, 10s)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "", "Output format (table, json)")
	scanCmd.Flags().BoolVar(&scanSPPOnly, "spp-only", false, "Only list devices known to offer the Serial Port Profile")
}

func runScan(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	format := a.cfg.OutputFormat
	if scanFormat != "" {
		format = scanFormat
	}
	if format != "table" && format != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", format)
	}
	if a.discovery == nil {
		return fmt.Errorf("scan is not available with the %s transport", config.TransportMemory)
	}
	duration := a.cfg.ScanTimeout
	if scanDuration > 0 {
		duration = scanDuration
	}

	cmd.SilenceUsage = true

	ctx, cancel := context.WithTimeout(cmd.Context(), duration)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(cmd.ErrOrStderr(), "\nCtrl+C pressed, stopping scan...")
			cancel()
		case <-ctx.Done():
		}
	}()

	progress := NewCountdownProgressPrinter(cmd.ErrOrStderr(), "Scanning for devices", "Scanning", duration)
	progress.Start()
	devices, err := a.discovery.Scan(ctx, &discovery.ScanOptions{SPPOnly: scanSPPOnly})
	progress.Stop()
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	if format == "json" {
		return displayDevicesJSON(cmd.OutOrStdout(), devices)
	}
	return displayDevicesTable(cmd.OutOrStdout(), devices)
}

func signalColor(info device.Info) *color.Color {
	switch info.SignalColor() {
	case device.ColorGood:
		return color.New(color.FgGreen)
	case device.ColorMedium:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

func displayDevicesTable(out io.Writer, devices []device.Info) error {
	if len(devices) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tTYPE\tSIGNAL\tPAIRED")
	fmt.Fprintln(w, strings.Repeat("-", 72))

	for _, d := range devices {
		name := d.DisplayName()
		if len(name) > 24 {
			name = name[:21] + "..."
		}
		paired := ""
		if d.Paired {
			paired = "yes"
		}
		signal := signalColor(d).Sprintf("%d%% (%d dBm)", d.SignalStrengthPercentage(), d.RSSI)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", name, d.Address, d.DeviceType(), signal, paired)
	}
	return w.Flush()
}

func displayDevicesJSON(out io.Writer, devices []device.Info) error {
	if devices == nil {
		devices = []device.Info{}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(devices)
}
