package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var statusWatch bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tunnel service state",
	Long: `Show the state of the background tunnel service.

Example:
  tunnelsync status             Print the current state
  tunnelsync status --watch     Follow state changes and traffic until Ctrl+C`,
	Aliases: []string{"st"},
	RunE:    runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "Follow state and traffic")
	rootCmd.AddCommand(statusCmd)
}

// signalContext is cancelled on Ctrl+C or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := signalContext()
	defer cancel()

	settleCtx, settleCancel := context.WithTimeout(ctx, waitTimeout)
	st, err := s.settle(settleCtx)
	settleCancel()
	if err != nil {
		return fmt.Errorf("service state did not resolve: %w", err)
	}

	fmt.Println(formatState(st))
	if !statusWatch {
		return nil
	}

	fmt.Println("\033[90mWatching, press Ctrl+C to stop\033[0m")

	states := s.interactor.TunnelStates()
	defer states.Close()
	dataStats := s.interactor.DataStats()
	defer dataStats.Close()

	last := st
	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case next, ok := <-states.C():
			if !ok {
				return nil
			}
			if next.Equal(last) {
				continue
			}
			last = next
			fmt.Println()
			fmt.Println(formatState(next))
			if next.IsStopped() {
				s.recorder.Reset()
			}
		case _, ok := <-dataStats.C():
			if !ok {
				return nil
			}
			if snap, ok := s.recorder.Snapshot(); ok {
				fmt.Printf("\r\033[K%s", formatStats(snap))
			}
		}
	}
}
