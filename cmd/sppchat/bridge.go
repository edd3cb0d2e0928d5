package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/sppchat/internal/ptybridge"
	"github.com/srg/sppchat/internal/session"
)

// bridgeCmd represents the bridge command
var bridgeCmd = &cobra.Command{
	Use:   "bridge <device-address>",
	Short: "Expose an SPP link as a PTY",
	Long: `Connect to an SPP device and create a pseudo-terminal wired to it. Serial
tools can open the PTY (or the --symlink path) as if it were the device's
serial port. Runs until Ctrl+C or until the link drops.`,
	Example: `  sppchat bridge 00:11:22:33:44:55 --symlink /tmp/spp0
  minicom -D /tmp/spp0`,
	Args: cobra.ExactArgs(1),
	RunE: runBridge,
}

var (
	bridgeSymlink string
	bridgeWait    time.Duration
)

func init() {
	bridgeCmd.Flags().StringVarP(&bridgeSymlink, "symlink", "s", "", "Create a symlink to the PTY slave at this path")
	bridgeCmd.Flags().DurationVarP(&bridgeWait, "wait", "w", 0, "How long to wait for the connection (default from config, 30s)")
}

// managerSender sends through a manager that is created after the bridge.
type managerSender struct {
	m atomic.Pointer[session.Manager]
}

func (s *managerSender) Send(data []byte) bool {
	m := s.m.Load()
	return m != nil && m.Send(data)
}

func runBridge(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	address, err := a.device(args[0])
	if err != nil {
		return err
	}
	symlink := a.cfg.TTYSymlink
	if bridgeSymlink != "" {
		symlink = bridgeSymlink
	}
	wait := a.cfg.ConnectWait
	if bridgeWait > 0 {
		wait = bridgeWait
	}

	cmd.SilenceUsage = true

	sender := &managerSender{}
	bridge, err := ptybridge.Open(sender, &ptybridge.Options{
		SymlinkPath: symlink,
		QueueSize:   a.cfg.PTYQueueSize,
		PollTimeout: a.cfg.PollInterval,
		Logger:      a.logger,
	})
	if err != nil {
		return err
	}
	defer bridge.Close()

	watcher := newLinkWatcher()
	manager, err := a.newManager(bridge.Observer(watcher))
	if err != nil {
		return err
	}
	// Close the manager before the bridge: no more data may be queued once the PTY is gone.
	defer manager.Close()
	sender.m.Store(manager)

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Connecting to "+address, "Connecting")
	progress.Start()
	manager.Connect(address, nil)
	err = watcher.wait(cmd.Context(), wait)
	progress.Stop()
	if err != nil {
		manager.Disconnect()
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Connected to %s\n", address)
	fmt.Fprintf(out, "PTY: %s\n", bridge.TTYName())
	if bridge.Symlink() != "" {
		fmt.Fprintf(out, "Symlink: %s\n", bridge.Symlink())
	}
	fmt.Fprintln(out, "Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		manager.Disconnect()
	case <-watcher.ended:
		err = ErrConnectionLost
	case <-cmd.Context().Done():
		manager.Disconnect()
	}

	stats := bridge.Stats()
	a.logger.WithFields(logrus.Fields{
		"to_device": stats.ToDevice,
		"to_pty":    stats.ToPTY,
		"dropped":   stats.Dropped,
		"rejected":  stats.Rejected,
	}).Info("Bridge stopped")
	return err
}
