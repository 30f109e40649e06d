package service

import (
	"context"
	"sync"
	"time"

	"tunnelsync/internal/shared/protocol"

	"go.uber.org/zap"
)

const (
	defaultEstablishDelay = 500 * time.Millisecond
	defaultStatsInterval  = time.Second

	fastBucketCount = 30
	slowBucketCount = 30
	fastPerSlow     = 10
)

// EngineConfig describes the simulated tunnel
type EngineConfig struct {
	Region         string
	SponsorID      string
	HTTPProxyPort  int
	SOCKSProxyPort int
	HomePages      []string
	EstablishDelay time.Duration
	StatsInterval  time.Duration
}

// Engine simulates the tunnel core: it reports running but not
// connected, connects after the establish delay and then reports traffic
// statistics every stats interval.
type Engine struct {
	cfg    EngineConfig
	vpn    bool
	logger *zap.Logger

	mu          sync.Mutex
	parent      context.Context
	cancel      context.CancelFunc
	running     bool
	connected   bool
	connectedAt time.Time
	sent        int64
	received    int64
	ticks       int
	fast        []int64
	fastStart   time.Time
	slow        []int64
	slowStart   time.Time
	onState     func(protocol.Bundle)
	onStats     func(protocol.Bundle)
	wg          sync.WaitGroup
}

// NewEngine creates a stopped engine
func NewEngine(cfg EngineConfig, vpn bool, logger *zap.Logger) *Engine {
	if cfg.EstablishDelay <= 0 {
		cfg.EstablishDelay = defaultEstablishDelay
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = defaultStatsInterval
	}
	return &Engine{
		cfg:    cfg,
		vpn:    vpn,
		logger: logger,
	}
}

// SetHandlers installs the callbacks state and statistics bundles are
// reported to. Must be called before Start.
func (e *Engine) SetHandlers(onState, onStats func(protocol.Bundle)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onState = onState
	e.onStats = onStats
}

// Start brings the tunnel up
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	e.parent = ctx
	e.mu.Unlock()
	e.run()
}

// Restart tears the tunnel down and brings it up again without leaving
// the running state
func (e *Engine) Restart() {
	e.logger.Info("Restarting tunnel engine")
	e.halt()
	e.emitState()
	e.run()
}

// Stop takes the tunnel down and reports it stopped
func (e *Engine) Stop() {
	e.halt()
	e.mu.Lock()
	wasRunning := e.running
	e.running = false
	e.mu.Unlock()
	if wasRunning {
		e.emitState()
	}
}

func (e *Engine) run() {
	e.mu.Lock()
	parent := e.parent
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	e.cancel = cancel
	e.running = true
	e.connected = false
	e.connectedAt = time.Time{}
	e.sent, e.received, e.ticks = 0, 0, 0
	e.fast, e.slow = nil, nil
	e.mu.Unlock()

	e.emitState()

	e.wg.Add(1)
	go e.loop(ctx)
}

// halt stops the engine loop and drops the connection
func (e *Engine) halt() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()

	e.mu.Lock()
	e.connected = false
	e.mu.Unlock()
}

func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()

	establish := time.NewTimer(e.cfg.EstablishDelay)
	defer establish.Stop()

	select {
	case <-establish.C:
	case <-ctx.Done():
		return
	}

	now := time.Now()
	e.mu.Lock()
	e.connected = true
	e.connectedAt = now
	e.fastStart = now
	e.slowStart = now
	e.mu.Unlock()

	e.logger.Info("Tunnel established",
		zap.String("region", e.cfg.Region),
		zap.Bool("vpn", e.vpn),
	)
	e.emitState()

	ticker := time.NewTicker(e.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.tick()
			e.emitStats()
		case <-ctx.Done():
			return
		}
	}
}

// tick accounts one interval of simulated traffic
func (e *Engine) tick() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ticks++
	sent := int64(2048 + 64*(e.ticks%16))
	received := 4 * sent
	e.sent += sent
	e.received += received

	e.fast = append(e.fast, sent+received)
	if len(e.fast) > fastBucketCount {
		e.fast = e.fast[1:]
		e.fastStart = e.fastStart.Add(e.cfg.StatsInterval)
	}

	if e.ticks%fastPerSlow == 0 {
		var sum int64
		for _, b := range e.fast[max(0, len(e.fast)-fastPerSlow):] {
			sum += b
		}
		e.slow = append(e.slow, sum)
		if len(e.slow) > slowBucketCount {
			e.slow = e.slow[1:]
			e.slowStart = e.slowStart.Add(fastPerSlow * e.cfg.StatsInterval)
		}
	}
}

// StateBundle returns the TUNNEL_CONNECTION_STATE payload
func (e *Engine) StateBundle() protocol.Bundle {
	e.mu.Lock()
	defer e.mu.Unlock()

	b := protocol.Bundle{
		protocol.KeyStateIsRunning: e.running,
	}
	if !e.running {
		return b
	}

	b[protocol.KeyStateIsVPN] = e.vpn
	b[protocol.KeyStateIsConnected] = e.connected
	b[protocol.KeyStateClientRegion] = e.cfg.Region
	b[protocol.KeyStateSponsorID] = e.cfg.SponsorID
	b[protocol.KeyStateHTTPProxyPort] = e.cfg.HTTPProxyPort
	b[protocol.KeyStateSocksProxyPort] = e.cfg.SOCKSProxyPort
	b[protocol.KeyStateNeedsHelpConnecting] = false
	if e.connected && len(e.cfg.HomePages) > 0 {
		b[protocol.KeyStateHomePages] = append([]string(nil), e.cfg.HomePages...)
	}
	return b
}

// StatsBundle returns the DATA_TRANSFER_STATS payload
func (e *Engine) StatsBundle() protocol.Bundle {
	e.mu.Lock()
	defer e.mu.Unlock()

	return protocol.Bundle{
		protocol.KeyStatsConnectedTime:        millis(e.connectedAt),
		protocol.KeyStatsTotalBytesSent:       e.sent,
		protocol.KeyStatsTotalBytesReceived:   e.received,
		protocol.KeyStatsSlowBuckets:          append([]int64(nil), e.slow...),
		protocol.KeyStatsSlowBucketsLastStart: millis(e.slowStart),
		protocol.KeyStatsFastBuckets:          append([]int64(nil), e.fast...),
		protocol.KeyStatsFastBucketsLastStart: millis(e.fastStart),
	}
}

// IsConnected reports whether the simulated tunnel is up
func (e *Engine) IsConnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

// VPN reports whether the engine runs in VPN mode
func (e *Engine) VPN() bool {
	return e.vpn
}

func (e *Engine) emitState() {
	e.mu.Lock()
	fn := e.onState
	e.mu.Unlock()
	if fn != nil {
		fn(e.StateBundle())
	}
}

func (e *Engine) emitStats() {
	e.mu.Lock()
	fn := e.onStats
	e.mu.Unlock()
	if fn != nil {
		fn(e.StatsBundle())
	}
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
