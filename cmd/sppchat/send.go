package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/sppchat/internal/session"
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send <device-address> <text>...",
	Short: "Send one message to an SPP device",
	Long: `Connect, send the text (arguments joined with spaces), optionally print
what the device answers for --listen, then disconnect.`,
	Example: `  sppchat send 00:11:22:33:44:55 "AT+VERSION"
  sppchat send 00:11:22:33:44:55 --newline --listen 2s AT`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSend,
}

var (
	sendWait    time.Duration
	sendListen  time.Duration
	sendNewline bool
)

func init() {
	sendCmd.Flags().DurationVarP(&sendWait, "wait", "w", 0, "How long to wait for the connection (default from config, 30s)")
	sendCmd.Flags().DurationVarP(&sendListen, "listen", "l", 0, "Print data received for this long after sending")
	sendCmd.Flags().BoolVarP(&sendNewline, "newline", "n", false, "Append CRLF to the text")
}

func runSend(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	address, err := a.device(args[0])
	if err != nil {
		return err
	}
	text := strings.Join(args[1:], " ")
	if sendNewline {
		text += "\r\n"
	}
	wait := a.cfg.ConnectWait
	if sendWait > 0 {
		wait = sendWait
	}

	cmd.SilenceUsage = true

	out := cmd.OutOrStdout()
	watcher := newLinkWatcher()
	printer := session.ObserverFuncs{
		OnDataReceived: func(_, payload string) { fmt.Fprint(out, payload) },
	}
	manager, err := a.newManager(fanout{watcher, printer}.observer())
	if err != nil {
		return err
	}
	defer manager.Close()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Connecting to "+address, "Connecting")
	progress.Start()
	manager.Connect(address, nil)
	err = watcher.wait(cmd.Context(), wait)
	progress.Stop()
	if err != nil {
		manager.Disconnect()
		return err
	}

	if err := manager.SendErr([]byte(text)); err != nil {
		manager.Disconnect()
		return fmt.Errorf("failed to send to %s: %w", address, err)
	}
	a.logger.WithField("bytes", len(text)).Info("Message sent")

	if sendListen > 0 {
		ctx, cancel := context.WithTimeout(cmd.Context(), sendListen)
		defer cancel()
		select {
		case <-ctx.Done():
		case <-watcher.ended:
			return ErrConnectionLost
		}
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ctx.Err()
		}
	}

	manager.Disconnect()
	return nil
}
