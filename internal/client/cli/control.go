package cli

import (
	"context"
	"errors"
	"fmt"

	"tunnelsync/internal/client/launcher"
	"tunnelsync/internal/client/state"
	"tunnelsync/pkg/config"

	"github.com/spf13/cobra"
)

var (
	startVPN   bool
	stopForce  bool
	restartVPN bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the tunnel service",
	Long: `Launch the background tunnel service and wait until it connects.

Example:
  tunnelsync start              Start with the saved VPN preference
  tunnelsync start --vpn        Start in VPN mode
  tunnelsync start --vpn=false  Start in proxy mode`,
	RunE: runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the tunnel service",
	Long: `Ask the background tunnel service to stop.

Example:
  tunnelsync stop               Stop gracefully
  tunnelsync stop --force       Kill the service process if it does not answer`,
	RunE: runStop,
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the running tunnel service",
	Long: `Restart the running tunnel service. The service restarts in place when
its VPN mode already matches; otherwise it is stopped and launched again.

Example:
  tunnelsync restart            Apply the saved VPN preference
  tunnelsync restart --vpn      Restart into VPN mode`,
	RunE: runRestart,
}

func init() {
	startCmd.Flags().BoolVar(&startVPN, "vpn", false, "Run the service in VPN mode (default: saved preference)")
	stopCmd.Flags().BoolVarP(&stopForce, "force", "f", false, "Kill the service process when it cannot be reached")
	restartCmd.Flags().BoolVar(&restartVPN, "vpn", false, "Restart into VPN mode (default: saved preference)")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	vpn := s.cfg.WantVPN()
	if cmd.Flags().Changed("vpn") {
		vpn = startVPN
	}

	ctx, cancel := signalContext()
	defer cancel()
	ctx, cancel = context.WithTimeout(ctx, waitTimeout)
	defer cancel()

	current, err := s.settle(ctx)
	if err != nil {
		return fmt.Errorf("service state did not resolve: %w", err)
	}
	if data, ok := current.ConnectionData(); ok {
		fmt.Printf("Tunnel service is already running in %s mode\n", modeName(data.VPNMode))
		if data.VPNMode != vpn {
			fmt.Println("Use 'tunnelsync restart' to switch modes")
		}
		fmt.Println(formatState(current))
		return nil
	}

	states := s.interactor.TunnelStates()
	defer states.Close()

	fmt.Printf("\033[36m🔌 Starting tunnel service (%s mode)...\033[0m\n", modeName(vpn))
	s.interactor.StartTunnelService(vpn)

	if _, err := waitForState(ctx, states, state.TunnelState.IsUnknown); err != nil {
		return err
	}
	st, err := waitForState(ctx, states, isSettled)
	if err != nil {
		return fmt.Errorf("service did not come up: %w", err)
	}
	if st.IsStopped() {
		return fmt.Errorf("tunnel service failed to start, see %s", s.launcher.LogPath())
	}

	if !isConnected(st) {
		fmt.Println("\033[90m  Waiting for the tunnel to connect...\033[0m")
		if connected, err := waitForState(ctx, states, isConnected); err == nil {
			st = connected
		}
	}

	fmt.Println(formatState(st))
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := signalContext()
	defer cancel()
	ctx, cancel = context.WithTimeout(ctx, waitTimeout)
	defer cancel()

	current, err := s.settle(ctx)
	if err != nil {
		if stopForce {
			return forceKill(s.launcher)
		}
		return fmt.Errorf("service state did not resolve: %w", err)
	}
	if current.IsStopped() {
		if stopForce {
			return forceKill(s.launcher)
		}
		fmt.Println("Tunnel service is not running")
		return nil
	}

	states := s.interactor.TunnelStates()
	defer states.Close()

	fmt.Println("\033[33m🛑 Stopping tunnel service...\033[0m")
	s.interactor.StopTunnelService()

	if _, err := waitForState(ctx, states, state.TunnelState.IsStopped); err != nil {
		if stopForce {
			return forceKill(s.launcher)
		}
		return fmt.Errorf("service did not stop: %w", err)
	}

	fmt.Println("\033[32m✓ Tunnel service stopped\033[0m")
	return nil
}

func forceKill(l *launcher.Launcher) error {
	if err := l.Kill(); err != nil {
		if errors.Is(err, launcher.ErrNotRunning) {
			fmt.Println("Tunnel service is not running")
			return nil
		}
		return fmt.Errorf("failed to kill service: %w", err)
	}
	fmt.Println("\033[32m✓ Tunnel service process killed\033[0m")
	return nil
}

func runRestart(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := signalContext()
	defer cancel()
	ctx, cancel = context.WithTimeout(ctx, waitTimeout)
	defer cancel()

	current, err := s.settle(ctx)
	if err != nil {
		return fmt.Errorf("service state did not resolve: %w", err)
	}
	if !current.IsRunning() {
		return fmt.Errorf("tunnel service is not running, use 'tunnelsync start'")
	}

	states := s.interactor.TunnelStates()
	defer states.Close()

	var vpn bool
	if cmd.Flags().Changed("vpn") {
		vpn = restartVPN
		s.interactor.ScheduleRunningTunnelServiceRestart(vpn, func() {
			fmt.Println("\033[90m  Mode change needs a full restart, relaunching...\033[0m")
			s.interactor.StartTunnelService(vpn)
		})
	} else {
		prefs := config.FilePreferences{Path: configPath}
		vpn = prefs.WantVPN()
		s.interactor.ScheduleRestartFromPreference(func() {
			fmt.Println("\033[90m  Mode change needs a full restart, relaunching...\033[0m")
			s.interactor.StartTunnelService(prefs.WantVPN())
		})
	}

	fmt.Printf("\033[36m🔄 Restarting tunnel service (%s mode)...\033[0m\n", modeName(vpn))

	if _, err := waitForState(ctx, states, func(st state.TunnelState) bool { return !st.Equal(current) }); err != nil {
		return fmt.Errorf("service did not restart: %w", err)
	}
	st, err := waitForState(ctx, states, isConnectedIn(vpn))
	if err != nil {
		return fmt.Errorf("service did not reconnect: %w", err)
	}

	fmt.Println(formatState(st))
	return nil
}
