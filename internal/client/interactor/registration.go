package interactor

import (
	"context"
	"time"

	"tunnelsync/internal/client/binding"
	"tunnelsync/internal/client/dispatch"
	"tunnelsync/internal/client/inbound"
	"tunnelsync/internal/client/state"
	"tunnelsync/internal/shared/protocol"

	"go.uber.org/zap"
)

// registration is one REGISTER lifetime: a bind plus the messages sent
// on it
type registration struct {
	id         uint64
	cancel     context.CancelFunc
	dispatcher *dispatch.Dispatcher
	handle     binding.Handle
}

// register replaces any current registration with a fresh one. REGISTER
// is queued first so the service learns the reply address before any
// other message.
func (i *Interactor) register(timeout time.Duration) {
	i.disposeRegistration()

	i.nextRegID++
	ctx, cancel := context.WithCancel(i.ctx)
	reg := &registration{
		id:         i.nextRegID,
		cancel:     cancel,
		dispatcher: dispatch.New(i.logger.With(zap.Uint64("registration", i.nextRegID))),
	}
	i.reg = reg

	i.setState(state.UnknownState())
	reg.dispatcher.Send(protocol.OpRegister, nil)

	i.logger.Debug("Registering with service",
		zap.Uint64("registration", reg.id),
		zap.Duration("timeout", timeout),
	)

	sink := func(frame *protocol.Frame) {
		i.post(func() {
			if i.reg == reg {
				i.handleFrame(frame)
			}
		})
	}
	handles := i.source.Connect(ctx, timeout, sink)
	go i.watch(reg, handles)
}

// watch forwards the handle stream of reg to the event loop
func (i *Interactor) watch(reg *registration, handles <-chan binding.Handle) {
	bound := false
	for h := range handles {
		bound = true
		i.post(func() { i.attach(reg, h) })
	}
	i.post(func() { i.bindCompleted(reg, bound) })
}

func (i *Interactor) attach(reg *registration, h binding.Handle) {
	if i.reg != reg {
		return
	}
	reg.handle = h
	reg.dispatcher.Attach(h)
	i.logger.Debug("Registered with service",
		zap.Uint64("registration", reg.id),
		zap.String("target", h.Target()),
	)
}

// bindCompleted resolves the state when a registration's handle stream
// ends. No handle at all means the service is not running. Losing a bind
// leaves the status unknown, so a resumed client registers again.
func (i *Interactor) bindCompleted(reg *registration, bound bool) {
	if i.reg != reg {
		return
	}
	i.disposeRegistration()

	if !bound {
		i.setState(state.StoppedState())
		return
	}

	i.logger.Info("Lost bind to tunnel service", zap.Uint64("registration", reg.id))
	i.setState(state.UnknownState())
	if i.resumed {
		i.register(i.bindTimeout)
	}
}

func (i *Interactor) disposeRegistration() {
	if i.reg == nil {
		return
	}
	i.reg.dispatcher.Close()
	i.reg.cancel()
	i.reg = nil
}

// onServiceStarting rebinds without delay so a resumed instance finds
// the service a sibling just launched
func (i *Interactor) onServiceStarting() {
	if !i.resumed {
		i.logger.Debug("Service starting while paused, not rebinding")
		return
	}
	i.register(0)
}

func (i *Interactor) handleFrame(frame *protocol.Frame) {
	switch ev := i.demux.Decode(frame).(type) {
	case inbound.RegionsReady:
		if i.regions != nil {
			i.regions.RegionsAvailable()
		}
		i.knownRegions.Accept(struct{}{})
	case inbound.StateSnapshot:
		i.setState(ev.State)
	case inbound.StatsSnapshot:
		if i.stats != nil {
			i.stats.Record(ev.Stats)
		}
		i.dataStats.Accept(ev.Connected)
	case inbound.ExchangeResult:
		i.exchanges.Accept(ev.Exchange)
	}
}
