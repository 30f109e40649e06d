// Package interactor keeps a client's view of the tunnel service in sync.
//
// An Interactor owns the canonical TunnelState of one client instance. All
// mutations run on a single event-loop goroutine: bind callbacks, inbound
// service messages, sibling broadcasts and timers are posted to its
// mailbox and applied in order. Observers read the state through
// deduplicated streams.
package interactor

import (
	"context"
	"errors"
	"sync"
	"time"

	"tunnelsync/internal/client/binding"
	"tunnelsync/internal/client/coordinator"
	"tunnelsync/internal/client/inbound"
	"tunnelsync/internal/client/state"
	"tunnelsync/internal/shared/protocol"
	"tunnelsync/internal/shared/relay"
	"tunnelsync/internal/shared/utils"

	"go.uber.org/zap"
)

const (
	// DefaultSampleTimeout bounds the wait for a known state before a
	// restart decision
	DefaultSampleTimeout = time.Second
	defaultBindTimeout   = time.Second
)

// ErrNoLauncher is logged when StartTunnelService has no launcher to use
var ErrNoLauncher = errors.New("no service launcher configured")

// HandleSource binds to the tunnel service
type HandleSource interface {
	Connect(ctx context.Context, timeout time.Duration, sink binding.FrameSink) <-chan binding.Handle
}

// Launcher starts the tunnel service process
type Launcher interface {
	Start(ctx context.Context, wantElevated bool) error
}

// Coordinator carries the "service starting" signal between instances
type Coordinator interface {
	Subscribe(fn func()) (unsubscribe func())
	NotifyStarting()
}

// StatsSink receives data transfer statistics
type StatsSink interface {
	Record(s state.DataTransferStats)
}

// RegionsSink is told when the service has its server region list
type RegionsSink interface {
	RegionsAvailable()
}

// Preferences provides the user's VPN mode preference
type Preferences interface {
	WantVPN() bool
}

// Options configures an Interactor
type Options struct {
	Source      HandleSource
	Launcher    Launcher
	Coordinator Coordinator
	Stats       StatsSink
	Regions     RegionsSink
	Preferences Preferences

	// BindTimeout bounds registration binds. Defaults to the source's
	// own BindTimeout when it has one.
	BindTimeout   time.Duration
	SampleTimeout time.Duration

	ClientVersion        string
	PropagationChannelID string

	Logger *zap.Logger
}

// Interactor is the state reconciler for one client instance
type Interactor struct {
	instance      string
	source        HandleSource
	launcher      Launcher
	coordinator   Coordinator
	ownsBus       *coordinator.Bus
	stats         StatsSink
	regions       RegionsSink
	prefs         Preferences
	bindTimeout   time.Duration
	sampleTimeout time.Duration
	demux         *inbound.Demultiplexer
	logger        *zap.Logger

	states       *relay.Behavior[state.TunnelState]
	dataStats    *relay.Publish[bool]
	knownRegions *relay.Publish[struct{}]
	exchanges    *relay.Publish[state.NfcExchange]

	ctx         context.Context
	cancel      context.CancelFunc
	inbox       *mailbox
	done        chan struct{}
	closeOnce   sync.Once
	unsubscribe func()

	// owned by the event loop
	resumed            bool
	reg                *registration
	nextRegID          uint64
	fullRestartPending bool
}

// New creates an Interactor in the Unknown state and starts its event loop
func New(opts Options) *Interactor {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	instance := utils.InstanceID()
	logger = logger.With(zap.String("instance", instance))

	i := &Interactor{
		instance:      instance,
		source:        opts.Source,
		launcher:      opts.Launcher,
		coordinator:   opts.Coordinator,
		stats:         opts.Stats,
		regions:       opts.Regions,
		prefs:         opts.Preferences,
		bindTimeout:   opts.BindTimeout,
		sampleTimeout: opts.SampleTimeout,
		demux:         inbound.NewDemultiplexer(opts.ClientVersion, opts.PropagationChannelID, logger),
		logger:        logger,
		states:        relay.NewBehavior(state.UnknownState(), state.TunnelState.Equal),
		dataStats:     relay.NewPublish[bool](nil),
		knownRegions:  relay.NewPublish[struct{}](nil),
		exchanges: relay.NewPublish(func(a, b state.NfcExchange) bool {
			return a == b
		}),
		inbox: newMailbox(),
		done:  make(chan struct{}),
	}

	if i.bindTimeout <= 0 {
		i.bindTimeout = defaultBindTimeout
		if bt, ok := opts.Source.(interface{ BindTimeout() time.Duration }); ok {
			i.bindTimeout = bt.BindTimeout()
		}
	}
	if i.sampleTimeout <= 0 {
		i.sampleTimeout = DefaultSampleTimeout
	}
	if i.coordinator == nil {
		i.ownsBus = coordinator.NewBus()
		i.coordinator = i.ownsBus
	}

	i.ctx, i.cancel = context.WithCancel(context.Background())
	i.unsubscribe = i.coordinator.Subscribe(func() {
		i.post(i.onServiceStarting)
	})

	go i.loop()
	return i
}

func (i *Interactor) loop() {
	defer close(i.done)

	for {
		select {
		case <-i.ctx.Done():
			return
		case <-i.inbox.wake:
			for _, fn := range i.inbox.drain() {
				if i.ctx.Err() != nil {
					return
				}
				fn()
			}
		}
	}
}

// post schedules fn on the event loop. Dropped after Close.
func (i *Interactor) post(fn func()) {
	if i.ctx.Err() != nil {
		return
	}
	i.inbox.post(fn)
}

// Resume marks the client active and registers with the service. A
// registration already in progress is replaced.
func (i *Interactor) Resume() {
	i.post(func() {
		i.resumed = true
		i.register(i.bindTimeout)
	})
}

// Pause marks the client inactive, unregisters and cancels pending
// dispatch. Safe when never registered.
func (i *Interactor) Pause() {
	i.post(func() {
		i.resumed = false
		if i.reg != nil {
			i.reg.dispatcher.Send(protocol.OpUnregister, nil)
		}
		i.disposeRegistration()
	})
}

// StartTunnelService launches the service and tells every instance to
// rebind. A launch failure resolves the state to Stopped.
func (i *Interactor) StartTunnelService(wantElevated bool) {
	i.post(func() {
		i.setState(state.UnknownState())
		go i.launch(wantElevated)
	})
}

func (i *Interactor) launch(wantElevated bool) {
	err := ErrNoLauncher
	if i.launcher != nil {
		err = i.launcher.Start(i.ctx, wantElevated)
	}
	if err != nil {
		i.logger.Warn("Failed to start tunnel service",
			zap.Bool("vpn", wantElevated),
			zap.Error(err),
		)
		i.post(func() { i.setState(state.StoppedState()) })
		return
	}
	i.coordinator.NotifyStarting()
}

// StopTunnelService asks the service to stop. A resumed instance without
// a live registration registers first so the stop is delivered and the
// state resolves; a paused one delivers it over a short-lived bind and
// leaves its state alone.
func (i *Interactor) StopTunnelService() {
	i.post(func() {
		if i.reg == nil {
			if !i.resumed {
				go i.sendOnce(protocol.OpStopService)
				return
			}
			i.register(i.bindTimeout)
		}
		i.setState(state.UnknownState())
		i.send(protocol.OpStopService, nil)
	})
}

// sendOnce delivers one message over a bind of its own and releases it
func (i *Interactor) sendOnce(op protocol.ControlOpcode) {
	ctx, cancel := context.WithCancel(i.ctx)
	defer cancel()

	h, ok := <-i.source.Connect(ctx, i.bindTimeout, nil)
	if !ok {
		i.logger.Debug("Service unreachable, dropping message", zap.Stringer("op", op))
		return
	}
	if err := h.Send(op, nil); err != nil {
		i.logger.Warn("Service message delivery failed", zap.Stringer("op", op), zap.Error(err))
	}
}

// InstanceID tags this instance in logs
func (i *Interactor) InstanceID() string {
	return i.instance
}

// ImportConnectionInfo hands an exchange payload to the service. The
// outcome arrives on NfcExchanges.
func (i *Interactor) ImportConnectionInfo(payload string) {
	i.post(func() {
		i.send(protocol.OpExchangeImport, protocol.Bundle{protocol.KeyExchangeImport: payload})
	})
}

// ExportConnectionInfo asks the service for an exchange payload. The
// payload arrives on NfcExchanges.
func (i *Interactor) ExportConnectionInfo() {
	i.post(func() {
		i.send(protocol.OpExchangeExport, nil)
	})
}

// TunnelStates streams the canonical state, current value first, with
// equal consecutive values coalesced. Close the subscription when done.
func (i *Interactor) TunnelStates() *relay.Subscription[state.TunnelState] {
	return i.states.Subscribe()
}

// CurrentState returns the canonical state
func (i *Interactor) CurrentState() state.TunnelState {
	return i.states.Value()
}

// DataStats streams the connected flag at the arrival of each statistics
// report
func (i *Interactor) DataStats() *relay.Subscription[bool] {
	return i.dataStats.Subscribe()
}

// KnownRegions signals each time the service reports its region list
func (i *Interactor) KnownRegions() *relay.Subscription[struct{}] {
	return i.knownRegions.Subscribe()
}

// NfcExchanges streams exchange results with duplicates coalesced
func (i *Interactor) NfcExchanges() *relay.Subscription[state.NfcExchange] {
	return i.exchanges.Subscribe()
}

// Close ends the interactor lifetime: the bind is released, pending
// timers stop and no further state is emitted
func (i *Interactor) Close() {
	i.closeOnce.Do(func() {
		i.unsubscribe()
		i.post(func() {
			i.resumed = false
			i.disposeRegistration()
			i.cancel()
		})
		<-i.done
		if i.ownsBus != nil {
			i.ownsBus.Close()
		}
	})
}

func (i *Interactor) setState(s state.TunnelState) {
	if i.states.Accept(s) {
		i.logger.Debug("Tunnel state changed", zap.Stringer("state", s))
	}
}

// send dispatches a control message on the current registration
func (i *Interactor) send(op protocol.ControlOpcode, data protocol.Bundle) {
	if i.reg == nil {
		i.logger.Debug("Not registered with service, dropping message", zap.Stringer("op", op))
		return
	}
	i.reg.dispatcher.Send(op, data)
}

// mailbox is an unbounded FIFO of loop tasks; posting never blocks
type mailbox struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{wake: make(chan struct{}, 1)}
}

func (m *mailbox) post(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue
	m.queue = nil
	return q
}
