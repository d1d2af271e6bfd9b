package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tfsbroker/internal/client"
)

var subCmd = &cobra.Command{
	Use:   "sub <register_pipe> <box>",
	Short: "Print messages from a box",
	Long: `Registers as a subscriber of a box and prints every message already in the
box, then each new one as it arrives. On interrupt or when the box is deleted
it prints the number of messages received.`,
	Args: cobra.ExactArgs(2),
	RunE: runSub,
}

var subPipe string

func init() {
	subCmd.Flags().StringVar(&subPipe, "pipe", "", "Session pipe path (default: unique name in the temp directory)")
	rootCmd.AddCommand(subCmd)
}

func runSub(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sub, err := client.New(args[0], subPipe).OpenSubscriber(ctx, args[1])
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		sub.Close()
	}()

	out := cmd.OutOrStdout()
	count, err := printMessages(sub, out)
	stop()
	sub.Close()

	fmt.Fprintf(out, "%d\n", count)
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

type nextMessager interface {
	Next() (string, error)
}

// printMessages prints messages until the session ends and returns how
// many it printed. A clean end of session is not an error.
func printMessages(src nextMessager, out io.Writer) (int, error) {
	count := 0
	for {
		text, err := src.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return count, err
		}
		fmt.Fprintln(out, text)
		count++
	}
}
