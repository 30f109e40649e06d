package interactor

import (
	"context"
	"time"

	"tunnelsync/internal/client/state"
	"tunnelsync/internal/shared/protocol"

	"go.uber.org/zap"
)

// ScheduleRunningTunnelServiceRestart restarts a running service so it
// picks up new settings. If the service's VPN mode already matches
// desiredVPN it restarts in place; otherwise it is stopped and, once its
// bind is gone, onNeedFullRestart is called to relaunch it. Nothing
// happens if no known state is seen within the sample timeout.
func (i *Interactor) ScheduleRunningTunnelServiceRestart(desiredVPN bool, onNeedFullRestart func()) {
	i.scheduleRestart(func() bool { return desiredVPN }, onNeedFullRestart)
}

// ScheduleRestartFromPreference is ScheduleRunningTunnelServiceRestart
// with the VPN mode read from Preferences when the decision is made
func (i *Interactor) ScheduleRestartFromPreference(onNeedFullRestart func()) {
	i.scheduleRestart(func() bool {
		return i.prefs != nil && i.prefs.WantVPN()
	}, onNeedFullRestart)
}

func (i *Interactor) scheduleRestart(desiredVPN func() bool, onNeedFullRestart func()) {
	go func() {
		s, ok := i.sampleState(i.ctx)
		if !ok {
			i.logger.Debug("Tunnel state unknown, skipping restart",
				zap.Duration("waited", i.sampleTimeout),
			)
			return
		}
		i.post(func() { i.decideRestart(s, desiredVPN(), onNeedFullRestart) })
	}()
}

// sampleState waits for the first state that is not Unknown
func (i *Interactor) sampleState(ctx context.Context) (state.TunnelState, bool) {
	sub := i.states.Subscribe()
	defer sub.Close()

	timer := time.NewTimer(i.sampleTimeout)
	defer timer.Stop()

	for {
		select {
		case s, ok := <-sub.C():
			if !ok {
				return state.TunnelState{}, false
			}
			if !s.IsUnknown() {
				return s, true
			}
		case <-timer.C:
			return state.TunnelState{}, false
		case <-ctx.Done():
			return state.TunnelState{}, false
		}
	}
}

func (i *Interactor) decideRestart(s state.TunnelState, desiredVPN bool, onNeedFullRestart func()) {
	data, running := s.ConnectionData()
	if !running {
		i.logger.Debug("Tunnel service not running, nothing to restart")
		return
	}
	if i.fullRestartPending {
		i.logger.Debug("Full restart already in progress")
		return
	}

	if data.VPNMode == desiredVPN {
		i.logger.Info("Restarting tunnel service in place", zap.Bool("vpn", desiredVPN))
		i.send(protocol.OpRestartService, nil)
		return
	}

	i.logger.Info("Tunnel service mode changed, full restart",
		zap.Bool("from_vpn", data.VPNMode),
		zap.Bool("to_vpn", desiredVPN),
	)
	i.fullRestartPending = true
	i.setState(state.UnknownState())
	go i.fullRestart(onNeedFullRestart)
}

// fullRestart stops the service over a bind of its own and waits for
// that bind to end, meaning the old process is gone
func (i *Interactor) fullRestart(onNeedFullRestart func()) {
	handles := i.source.Connect(i.ctx, 0, nil)

	select {
	case h, ok := <-handles:
		if ok {
			if err := h.Send(protocol.OpStopService, nil); err != nil {
				i.logger.Warn("Failed to send stop for full restart", zap.Error(err))
			}
			for range handles {
			}
		}
	case <-i.ctx.Done():
	}

	if i.ctx.Err() != nil {
		return
	}

	i.post(func() { i.fullRestartPending = false })
	if onNeedFullRestart != nil {
		onNeedFullRestart()
	}
}
