package cli

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"tunnelsync/internal/server/service"
	"tunnelsync/internal/shared/transport"
	"tunnelsync/internal/shared/utils"
	"tunnelsync/pkg/config"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	serviceVPN     bool
	serviceLogFile string
)

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Background tunnel service commands",
}

var serviceRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the tunnel service in the foreground",
	Long: `Run the tunnel service in the foreground. 'tunnelsync start' launches
this command detached; run it directly to debug the service.

Example:
  tunnelsync service run                Serve on the control endpoint
  tunnelsync service run --vpn          Serve in VPN mode on the elevated endpoint`,
	Args: cobra.NoArgs,
	RunE: runService,
}

func init() {
	serviceRunCmd.Flags().BoolVar(&serviceVPN, "vpn", false, "Run in VPN mode")
	serviceRunCmd.Flags().StringVar(&serviceLogFile, "log-file", "", "Write logs to this file instead of stdout")
	serviceCmd.AddCommand(serviceRunCmd)
	rootCmd.AddCommand(serviceCmd)
}

func runService(cmd *cobra.Command, args []string) error {
	if err := utils.InitServiceLogger(verbose, serviceLogFile); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer utils.Sync()
	logger := utils.GetLogger()

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	svcCfg, err := serviceConfig(cfg, serviceVPN)
	if err != nil {
		return err
	}
	if svcCfg.Endpoint.Scheme == transport.SchemeUnix {
		if err := os.MkdirAll(filepath.Dir(svcCfg.Endpoint.Address), 0700); err != nil {
			return fmt.Errorf("failed to create socket directory: %w", err)
		}
	}

	svc, err := service.New(svcCfg, logger.Named("service"))
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := svc.Run(ctx); err != nil {
		logger.Error("Tunnel service failed", zap.Error(err))
		return err
	}
	return nil
}

// serviceConfig maps the config file onto a service configuration
func serviceConfig(cfg *config.Config, vpn bool) (service.Config, error) {
	ep, err := cfg.ServiceEndpoint(vpn)
	if err != nil {
		return service.Config{}, err
	}

	wsPath := service.DefaultWebSocketPath
	if cfg.WebSocket != "" {
		u, err := url.Parse(cfg.WebSocket)
		if err != nil {
			return service.Config{}, fmt.Errorf("invalid websocket endpoint: %w", err)
		}
		if u.Path != "" {
			wsPath = u.Path
		}
	}

	sc := cfg.Service
	return service.Config{
		Endpoint:      ep,
		WebSocketAddr: sc.WebSocketListen,
		WebSocketPath: wsPath,
		VPN:           vpn,
		ExchangeKey:   sc.ExchangeKey,
		Workers:       sc.Workers,
		Engine: service.EngineConfig{
			Region:         sc.Region,
			SponsorID:      sc.SponsorID,
			HTTPProxyPort:  sc.HTTPProxyPort,
			SOCKSProxyPort: sc.SOCKSProxyPort,
			HomePages:      sc.HomePages,
			EstablishDelay: sc.EstablishDelay,
			StatsInterval:  sc.StatsInterval,
		},
	}, nil
}
