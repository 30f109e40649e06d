package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tunnelsync/internal/client/binding"
	"tunnelsync/internal/client/interactor"
	"tunnelsync/internal/client/launcher"
	"tunnelsync/internal/client/state"
	"tunnelsync/internal/client/stats"
	"tunnelsync/internal/shared/relay"
	"tunnelsync/internal/shared/utils"
	"tunnelsync/pkg/config"

	"go.uber.org/zap"
)

const defaultWaitTimeout = 15 * time.Second

var errSessionClosed = errors.New("session closed")

// session wires one interactor to the configured service endpoints
type session struct {
	cfg        *config.Config
	launcher   *launcher.Launcher
	recorder   *stats.Recorder
	interactor *interactor.Interactor
	logger     *zap.Logger
}

func openSession() (*session, error) {
	if err := utils.InitLogger(verbose); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger := utils.GetLogger()

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	targets, err := cfg.Targets()
	if err != nil {
		return nil, err
	}

	l := launcher.New(launcher.Config{
		StateDir:   cfg.StateDir,
		ConfigPath: configPath,
	}, logger.Named("launcher"))
	recorder := stats.NewRecorder()

	ia := interactor.New(interactor.Options{
		Source:               binding.NewSource(binding.Config{Targets: targets}, logger.Named("binding")),
		Launcher:             l,
		Stats:                recorder,
		Preferences:          config.FilePreferences{Path: configPath},
		BindTimeout:          cfg.BindTimeout,
		ClientVersion:        Version,
		PropagationChannelID: cfg.PropagationChannelID,
		Logger:               logger.Named("interactor"),
	})

	return &session{
		cfg:        cfg,
		launcher:   l,
		recorder:   recorder,
		interactor: ia,
		logger:     logger,
	}, nil
}

// Close unregisters and ends the interactor
func (s *session) Close() {
	s.interactor.Pause()
	s.interactor.Close()
	utils.Sync()
}

// settle resumes the interactor and waits for the first resolved state
func (s *session) settle(ctx context.Context) (state.TunnelState, error) {
	sub := s.interactor.TunnelStates()
	defer sub.Close()

	s.interactor.Resume()
	return waitForState(ctx, sub, isSettled)
}

// waitForState returns the first state on sub that satisfies done
func waitForState(ctx context.Context, sub *relay.Subscription[state.TunnelState], done func(state.TunnelState) bool) (state.TunnelState, error) {
	for {
		select {
		case st, ok := <-sub.C():
			if !ok {
				return state.UnknownState(), errSessionClosed
			}
			if done(st) {
				return st, nil
			}
		case <-ctx.Done():
			return state.UnknownState(), ctx.Err()
		}
	}
}

func isSettled(s state.TunnelState) bool {
	return !s.IsUnknown()
}

func isConnected(s state.TunnelState) bool {
	data, ok := s.ConnectionData()
	return ok && data.IsConnected
}

// isConnectedIn reports a connected tunnel in the wanted VPN mode
func isConnectedIn(vpn bool) func(state.TunnelState) bool {
	return func(s state.TunnelState) bool {
		data, ok := s.ConnectionData()
		return ok && data.IsConnected && data.VPNMode == vpn
	}
}

func formatState(s state.TunnelState) string {
	data, ok := s.ConnectionData()
	if !ok {
		switch {
		case s.IsStopped():
			return "\033[31m● Stopped\033[0m"
		default:
			return "\033[33m● Unknown\033[0m"
		}
	}

	var b strings.Builder
	if data.IsConnected {
		b.WriteString("\033[32m● Connected\033[0m\n")
	} else if data.NeedsHelpConnecting {
		b.WriteString("\033[33m● Connecting (needs help connecting)\033[0m\n")
	} else {
		b.WriteString("\033[33m● Connecting\033[0m\n")
	}
	fmt.Fprintf(&b, "  Mode:        %s\n", modeName(data.VPNMode))
	fmt.Fprintf(&b, "  Region:      %s\n", orDash(data.ClientRegion))
	fmt.Fprintf(&b, "  Sponsor:     %s\n", orDash(data.SponsorID))
	fmt.Fprintf(&b, "  HTTP proxy:  %s\n", portOrDash(data.HTTPProxyPort))
	fmt.Fprintf(&b, "  SOCKS proxy: %s", portOrDash(data.SOCKSProxyPort))
	for i, page := range data.HomePages {
		if i == 0 {
			fmt.Fprintf(&b, "\n  Home pages:  %s", page)
		} else {
			fmt.Fprintf(&b, "\n               %s", page)
		}
	}
	return b.String()
}

func formatStats(snap stats.Snapshot) string {
	return fmt.Sprintf("Up %s  ↓ %s (%s)  ↑ %s (%s)",
		stats.FormatDuration(snap.Uptime),
		stats.FormatBytes(snap.TotalBytesReceived), stats.FormatSpeed(snap.SpeedReceived),
		stats.FormatBytes(snap.TotalBytesSent), stats.FormatSpeed(snap.SpeedSent),
	)
}

func modeName(vpn bool) string {
	if vpn {
		return "VPN"
	}
	return "proxy"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func portOrDash(port int) string {
	if port <= 0 {
		return "-"
	}
	return fmt.Sprintf("127.0.0.1:%d", port)
}
