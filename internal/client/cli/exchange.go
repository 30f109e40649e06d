package cli

import (
	"context"
	"fmt"

	"tunnelsync/internal/client/state"

	"github.com/spf13/cobra"
)

var exchangeCmd = &cobra.Command{
	Use:   "exchange",
	Short: "Exchange connection info with another device",
	Long: `Export the running service's connection info as a sealed payload, or
import a payload exported by another device.

Example:
  tunnelsync exchange export            Print a payload to share
  tunnelsync exchange import <payload>  Import a shared payload`,
}

var exchangeExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export connection info",
	Args:  cobra.NoArgs,
	RunE:  runExchangeExport,
}

var exchangeImportCmd = &cobra.Command{
	Use:   "import <payload>",
	Short: "Import connection info",
	Args:  cobra.ExactArgs(1),
	RunE:  runExchangeImport,
}

func init() {
	exchangeCmd.AddCommand(exchangeExportCmd)
	exchangeCmd.AddCommand(exchangeImportCmd)
	rootCmd.AddCommand(exchangeCmd)
}

func runExchangeExport(cmd *cobra.Command, args []string) error {
	result, err := exchange(func(s *session) { s.interactor.ExportConnectionInfo() }, state.Exported)
	if err != nil {
		return err
	}
	if result.Payload == "" {
		return fmt.Errorf("service could not export connection info (is service.exchange_key set?)")
	}
	fmt.Println(result.Payload)
	return nil
}

func runExchangeImport(cmd *cobra.Command, args []string) error {
	payload := args[0]
	result, err := exchange(func(s *session) { s.interactor.ImportConnectionInfo(payload) }, state.Imported)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("service rejected the connection info")
	}
	fmt.Println("\033[32m✓ Connection info imported\033[0m")
	return nil
}

// exchange runs one request against a running service and waits for the
// matching result
func exchange(request func(*session), kind state.ExchangeKind) (state.NfcExchange, error) {
	s, err := openSession()
	if err != nil {
		return state.NfcExchange{}, err
	}
	defer s.Close()

	ctx, cancel := signalContext()
	defer cancel()
	ctx, cancel = context.WithTimeout(ctx, waitTimeout)
	defer cancel()

	current, err := s.settle(ctx)
	if err != nil {
		return state.NfcExchange{}, fmt.Errorf("service state did not resolve: %w", err)
	}
	if !current.IsRunning() {
		return state.NfcExchange{}, fmt.Errorf("tunnel service is not running, use 'tunnelsync start'")
	}

	results := s.interactor.NfcExchanges()
	defer results.Close()

	request(s)

	for {
		select {
		case r, ok := <-results.C():
			if !ok {
				return state.NfcExchange{}, errSessionClosed
			}
			if r.Kind == kind {
				return r, nil
			}
		case <-ctx.Done():
			return state.NfcExchange{}, fmt.Errorf("no answer from service: %w", ctx.Err())
		}
	}
}
