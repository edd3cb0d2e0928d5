package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/sppchat/internal/chat"
	"github.com/srg/sppchat/internal/session"
	"golang.org/x/term"
)

// chatCmd represents the chat command
var chatCmd = &cobra.Command{
	Use:   "chat <device-address>",
	Short: "Interactive text chat with an SPP device",
	Long: `Connect to an SPP device and chat line by line. Each line typed is sent
as-is (trimmed); everything the device sends is shown as it arrives.

Commands:
  /retry        reconnect after the link failed or dropped
  /quick        list quick messages
  /quick N      send quick message N
  /stats        show message counts and session duration
  /quit         disconnect and exit`,
	Example: `  sppchat chat 00:11:22:33:44:55
  sppchat chat --transport memory loopback`,
	Args: cobra.ExactArgs(1),
	RunE: runChat,
}

var chatWait time.Duration

func init() {
	chatCmd.Flags().DurationVarP(&chatWait, "wait", "w", 0, "How long to wait for the connection (default from config, 30s)")
}

// transcriptPrinter renders chat messages to a terminal.
type transcriptPrinter struct {
	mu  sync.Mutex
	out io.Writer

	sent     *color.Color
	received *color.Color
	system   *color.Color
}

func newTranscriptPrinter(out io.Writer) *transcriptPrinter {
	return &transcriptPrinter{
		out:      out,
		sent:     color.New(color.FgCyan),
		received: color.New(color.FgGreen, color.Bold),
		system:   color.New(color.FgYellow),
	}
}

func (p *transcriptPrinter) print(m chat.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch m.Type {
	case chat.TypeSent:
		p.sent.Fprintf(p.out, "[%s] > %s\n", m.FormattedTime(), m.Text)
	case chat.TypeReceived:
		p.received.Fprintf(p.out, "[%s] < %s\n", m.FormattedTime(), m.Text)
	default:
		p.system.Fprintf(p.out, "[%s] * %s\n", m.FormattedTime(), m.Text)
	}
}

func (p *transcriptPrinter) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

// chatSession is the state of one running chat command.
type chatSession struct {
	chat    *chat.Chat
	printer *transcriptPrinter
	manager *session.Manager
	watcher *linkWatcher
	address string
	wait    time.Duration
}

// connect starts a connection to the session's device and waits for its
// outcome. A timed out attempt is cancelled; its ConnectionFailed then
// reaches the watcher like any other failure.
func (cs *chatSession) connect(ctx context.Context) error {
	cs.watcher.reset()
	cs.manager.Connect(cs.address, nil)
	err := cs.watcher.wait(ctx, cs.wait)
	if errors.Is(err, ErrConnectTimeout) {
		cs.manager.Disconnect()
	}
	return err
}

// connectFailed reports a failed connect. Failure reasons are already in the
// transcript; a timeout is not, and its cancellation prompts for a retry
// when it arrives through the watcher.
func (cs *chatSession) connectFailed(err error) {
	if errors.Is(err, ErrConnectTimeout) {
		cs.printer.printf("%s\n", FormatUserError(err))
		return
	}
	cs.offerRetry()
}

func (cs *chatSession) offerRetry() {
	cs.printer.printf("Type /retry to reconnect or /quit to exit.\n")
}

func runChat(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	address, err := a.device(args[0])
	if err != nil {
		return err
	}
	wait := a.cfg.ConnectWait
	if chatWait > 0 {
		wait = chatWait
	}

	cmd.SilenceUsage = true

	printer := newTranscriptPrinter(cmd.OutOrStdout())
	c := chat.New(&chat.Options{OnMessage: printer.print, Logger: a.logger})
	watcher := newLinkWatcher()

	manager, err := a.newManager(fanout{c.Observer(), watcher}.observer())
	if err != nil {
		return err
	}
	defer manager.Close()
	c.Bind(manager)

	cs := &chatSession{chat: c, printer: printer, manager: manager, watcher: watcher, address: address, wait: wait}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	// Retry prompts need a terminal; otherwise link failures end the command.
	interactive := term.IsTerminal(int(os.Stdin.Fd()))

	if err := cs.connect(ctx); err != nil {
		if !interactive || ctx.Err() != nil {
			return err
		}
		cs.connectFailed(err)
	} else if interactive {
		printer.printf("Type a message and press Enter. /quit to exit.\n")
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			manager.Disconnect()
			return nil
		case <-watcher.ended:
			if !interactive {
				return ErrConnectionLost
			}
			cs.offerRetry()
		case line, ok := <-lines:
			if !ok {
				manager.Disconnect()
				return nil
			}
			if quit := cs.handleLine(ctx, line); quit {
				manager.Disconnect()
				return nil
			}
		}
	}
}

// handleLine runs a slash command or sends the line. It returns true on /quit.
func (cs *chatSession) handleLine(ctx context.Context, line string) bool {
	c, printer := cs.chat, cs.printer
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "/quit":
		return true
	case trimmed == "/retry":
		if cs.manager.IsConnected() {
			printer.printf("already connected to %s\n", cs.address)
			return false
		}
		if err := cs.connect(ctx); err != nil && ctx.Err() == nil {
			cs.connectFailed(err)
		}
		return false
	case trimmed == "/stats":
		t := c.Transcript()
		printer.printf("Device: %s\nMessages: %s\nSession duration: %s\n", c.DeviceAddress(), t.Stats(), t.Duration())
		return false
	case trimmed == "/quick":
		for i, q := range chat.QuickMessages {
			printer.printf("  %d. %s\n", i+1, q)
		}
		return false
	case strings.HasPrefix(trimmed, "/quick "):
		n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(trimmed, "/quick ")))
		if err != nil || n < 1 || n > len(chat.QuickMessages) {
			printer.printf("quick message number must be 1-%d\n", len(chat.QuickMessages))
			return false
		}
		line = chat.QuickMessages[n-1]
	}

	err := c.Send(line)
	switch {
	case errors.Is(err, chat.ErrNotConnected):
		printer.printf("%s\n", err)
		cs.offerRetry()
	case err != nil && !errors.Is(err, chat.ErrEmptyMessage) && !errors.Is(err, chat.ErrSendFailed):
		printer.printf("%s\n", err)
	}
	return false
}
