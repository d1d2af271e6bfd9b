package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"tfsbroker/internal/client"
	"tfsbroker/internal/protocol"
)

var pubCmd = &cobra.Command{
	Use:   "pub <register_pipe> <box>",
	Short: "Publish lines from stdin to a box",
	Long: `Registers as the publisher of a box and sends every line read from stdin as
one message. Lines longer than a message are split. The session ends at end
of input, on interrupt, or when the broker closes it.`,
	Args: cobra.ExactArgs(2),
	RunE: runPub,
}

var pubPipe string

func init() {
	pubCmd.Flags().StringVar(&pubPipe, "pipe", "", "Session pipe path (default: unique name in the temp directory)")
	rootCmd.AddCommand(pubCmd)
}

func runPub(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pub, err := client.New(args[0], pubPipe).OpenPublisher(ctx, args[1])
	if err != nil {
		return err
	}
	defer pub.Close()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		readErr <- readLines(ctx, cmd.InOrStdin(), lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			for _, msg := range splitMessage(line, protocol.MessageLength-1) {
				if err := pub.Send(msg); err != nil {
					if errors.Is(err, client.ErrSessionClosed) {
						return fmt.Errorf("box %s: %w", args[1], err)
					}
					return err
				}
			}
		}
	}
}

// readLines sends each line of r without its newline. It returns nil at
// end of input or once ctx is done.
func readLines(ctx context.Context, r io.Reader, out chan<- string) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			select {
			case out <- strings.TrimSuffix(line, "\n"):
			case <-ctx.Done():
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// splitMessage cuts s into pieces of at most max bytes. An empty line is
// one empty message.
func splitMessage(s string, max int) []string {
	if len(s) <= max {
		return []string{s}
	}
	var parts []string
	for len(s) > max {
		parts = append(parts, s[:max])
		s = s[max:]
	}
	if len(s) > 0 {
		parts = append(parts, s)
	}
	return parts
}
