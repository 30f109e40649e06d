// Package inbound decodes event frames pushed by the tunnel service.
package inbound

import (
	"time"

	"tunnelsync/internal/client/state"
	"tunnelsync/internal/shared/protocol"

	"go.uber.org/zap"
)

// Event is one decoded inbound message
type Event interface {
	isEvent()
}

// RegionsReady signals that the service knows its server regions
type RegionsReady struct{}

// StateSnapshot carries a decoded tunnel state
type StateSnapshot struct {
	State state.TunnelState
}

// StatsSnapshot carries data transfer statistics and the connected flag
// of the last state snapshot seen before it
type StatsSnapshot struct {
	Stats     state.DataTransferStats
	Connected bool
}

// ExchangeResult carries a connection info exchange response
type ExchangeResult struct {
	Exchange state.NfcExchange
}

// Unrecognized wraps an opcode this build does not understand. Newer
// services may send these; they are ignored.
type Unrecognized struct {
	Opcode protocol.EventOpcode
}

func (RegionsReady) isEvent()   {}
func (StateSnapshot) isEvent()  {}
func (StatsSnapshot) isEvent()  {}
func (ExchangeResult) isEvent() {}
func (Unrecognized) isEvent()   {}

// Demultiplexer turns frames into events. It remembers the last decoded
// state, so one instance serves one interactor and is not safe for
// concurrent use.
type Demultiplexer struct {
	clientVersion        string
	propagationChannelID string
	logger               *zap.Logger
	lastConnected        bool
}

// NewDemultiplexer creates a demultiplexer. clientVersion and
// propagationChannelID are build values stamped into every ConnectionData.
func NewDemultiplexer(clientVersion, propagationChannelID string, logger *zap.Logger) *Demultiplexer {
	return &Demultiplexer{
		clientVersion:        clientVersion,
		propagationChannelID: propagationChannelID,
		logger:               logger,
	}
}

// Decode maps a frame to exactly one event
func (d *Demultiplexer) Decode(frame *protocol.Frame) Event {
	op := protocol.EventOpcode(frame.Opcode)
	if !op.IsKnown() {
		d.logger.Debug("Ignoring unrecognized service message",
			zap.Stringer("opcode", op),
		)
		return Unrecognized{Opcode: op}
	}

	data, err := frame.Bundle()
	if err != nil {
		d.logger.Warn("Malformed service message payload",
			zap.Stringer("opcode", op),
			zap.Error(err),
		)
		data = protocol.Bundle{}
	}

	switch op {
	case protocol.EvKnownServerRegions:
		return RegionsReady{}
	case protocol.EvTunnelConnectionState:
		s := d.decodeState(data)
		cd, _ := s.ConnectionData()
		d.lastConnected = cd.IsConnected
		return StateSnapshot{State: s}
	case protocol.EvDataTransferStats:
		return StatsSnapshot{Stats: decodeStats(data), Connected: d.lastConnected}
	case protocol.EvExchangeExportResponse:
		payload, _ := data.String(protocol.KeyExchangeExportResponse)
		return ExchangeResult{Exchange: state.ExportedExchange(payload)}
	case protocol.EvExchangeImportResponse:
		ok, _ := data.Bool(protocol.KeyExchangeImportResponse)
		return ExchangeResult{Exchange: state.ImportedExchange(ok)}
	default:
		return Unrecognized{Opcode: op}
	}
}

// decodeState builds a tunnel state. A running state needs every
// connection field; anything partial degrades to Stopped.
func (d *Demultiplexer) decodeState(data protocol.Bundle) state.TunnelState {
	running, ok := data.Bool(protocol.KeyStateIsRunning)
	if !ok || !running {
		if !ok {
			d.logger.Warn("Tunnel state without running flag, treating as stopped")
		}
		return state.StoppedState()
	}

	isVPN, ok1 := data.Bool(protocol.KeyStateIsVPN)
	connected, ok2 := data.Bool(protocol.KeyStateIsConnected)
	region, ok3 := data.String(protocol.KeyStateClientRegion)
	sponsor, ok4 := data.String(protocol.KeyStateSponsorID)
	httpPort, ok5 := data.Int(protocol.KeyStateHTTPProxyPort)
	needsHelp, ok6 := data.Bool(protocol.KeyStateNeedsHelpConnecting)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) {
		d.logger.Warn("Incomplete tunnel state payload, treating as stopped",
			zap.Int("keys", len(data)),
		)
		return state.StoppedState()
	}

	var socksPort int64
	if data.Has(protocol.KeyStateSocksProxyPort) {
		if socksPort, ok = data.Int(protocol.KeyStateSocksProxyPort); !ok {
			d.logger.Warn("Garbled SOCKS proxy port, treating as stopped")
			return state.StoppedState()
		}
	}
	if !validPort(httpPort) || !validPort(socksPort) {
		d.logger.Warn("Proxy port out of range, treating as stopped",
			zap.Int64("http", httpPort),
			zap.Int64("socks", socksPort),
		)
		return state.StoppedState()
	}

	var homePages []string
	if data.Has(protocol.KeyStateHomePages) {
		pages, ok := data.Strings(protocol.KeyStateHomePages)
		if !ok {
			d.logger.Warn("Garbled home pages, treating as stopped")
			return state.StoppedState()
		}
		if connected {
			homePages = pages
		}
	}

	return state.RunningState(state.ConnectionData{
		IsConnected:          connected,
		ClientRegion:         region,
		ClientVersion:        d.clientVersion,
		PropagationChannelID: d.propagationChannelID,
		SponsorID:            sponsor,
		HTTPProxyPort:        int(httpPort),
		SOCKSProxyPort:       int(socksPort),
		VPNMode:              isVPN,
		HomePages:            homePages,
		NeedsHelpConnecting:  needsHelp,
	})
}

func validPort(p int64) bool {
	return p >= 0 && p <= 65535
}

func decodeStats(data protocol.Bundle) state.DataTransferStats {
	var s state.DataTransferStats
	s.ConnectedTime = millis(data, protocol.KeyStatsConnectedTime)
	s.TotalBytesSent, _ = data.Int(protocol.KeyStatsTotalBytesSent)
	s.TotalBytesReceived, _ = data.Int(protocol.KeyStatsTotalBytesReceived)
	s.SlowBuckets, _ = data.Ints(protocol.KeyStatsSlowBuckets)
	s.SlowBucketsStart = millis(data, protocol.KeyStatsSlowBucketsLastStart)
	s.FastBuckets, _ = data.Ints(protocol.KeyStatsFastBuckets)
	s.FastBucketsStart = millis(data, protocol.KeyStatsFastBucketsLastStart)
	return s
}

func millis(data protocol.Bundle, key string) time.Time {
	ms, ok := data.Int(key)
	if !ok || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
