// Package state holds the values the interactor publishes: the tunnel
// state, connection info exchange results and data transfer statistics.
package state

import (
	"fmt"
	"slices"
	"time"
)

// Kind tags a TunnelState
type Kind int

const (
	// Unknown is transient while a bind is being (re)established
	Unknown Kind = iota
	Stopped
	Running
)

func (k Kind) String() string {
	switch k {
	case Unknown:
		return "unknown"
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ConnectionData describes a running tunnel service
type ConnectionData struct {
	IsConnected          bool
	ClientRegion         string
	ClientVersion        string
	PropagationChannelID string
	SponsorID            string
	HTTPProxyPort        int
	SOCKSProxyPort       int
	VPNMode              bool
	// HomePages is empty unless IsConnected
	HomePages           []string
	NeedsHelpConnecting bool
}

// Equal compares by value
func (c ConnectionData) Equal(o ConnectionData) bool {
	return c.IsConnected == o.IsConnected &&
		c.ClientRegion == o.ClientRegion &&
		c.ClientVersion == o.ClientVersion &&
		c.PropagationChannelID == o.PropagationChannelID &&
		c.SponsorID == o.SponsorID &&
		c.HTTPProxyPort == o.HTTPProxyPort &&
		c.SOCKSProxyPort == o.SOCKSProxyPort &&
		c.VPNMode == o.VPNMode &&
		c.NeedsHelpConnecting == o.NeedsHelpConnecting &&
		slices.Equal(c.HomePages, o.HomePages)
}

// TunnelState is Unknown, Stopped or Running with connection data.
// The zero value is Unknown.
type TunnelState struct {
	kind Kind
	data ConnectionData
}

// UnknownState returns the transient unknown state
func UnknownState() TunnelState {
	return TunnelState{kind: Unknown}
}

// StoppedState returns the stopped state
func StoppedState() TunnelState {
	return TunnelState{kind: Stopped}
}

// RunningState returns a running state carrying a copy of data. Home
// pages are dropped unless the tunnel is connected.
func RunningState(data ConnectionData) TunnelState {
	if data.IsConnected {
		data.HomePages = slices.Clone(data.HomePages)
	} else {
		data.HomePages = nil
	}
	return TunnelState{kind: Running, data: data}
}

func (s TunnelState) Kind() Kind      { return s.kind }
func (s TunnelState) IsUnknown() bool { return s.kind == Unknown }
func (s TunnelState) IsStopped() bool { return s.kind == Stopped }
func (s TunnelState) IsRunning() bool { return s.kind == Running }

// ConnectionData returns the running tunnel's data. ok is false unless Running.
func (s TunnelState) ConnectionData() (ConnectionData, bool) {
	if s.kind != Running {
		return ConnectionData{}, false
	}
	d := s.data
	d.HomePages = slices.Clone(d.HomePages)
	return d, true
}

// Equal compares by value
func (s TunnelState) Equal(o TunnelState) bool {
	if s.kind != o.kind {
		return false
	}
	if s.kind != Running {
		return true
	}
	return s.data.Equal(o.data)
}

func (s TunnelState) String() string {
	if s.kind != Running {
		return s.kind.String()
	}
	return fmt.Sprintf("running(connected=%t vpn=%t region=%s)",
		s.data.IsConnected, s.data.VPNMode, s.data.ClientRegion)
}

// ExchangeKind tags an NfcExchange
type ExchangeKind int

const (
	Exported ExchangeKind = iota + 1
	Imported
)

// NfcExchange is the result of a connection info exchange: either an
// exported payload or an import outcome. Comparable with ==.
type NfcExchange struct {
	Kind    ExchangeKind
	Payload string
	Success bool
}

// ExportedExchange wraps an exported payload
func ExportedExchange(payload string) NfcExchange {
	return NfcExchange{Kind: Exported, Payload: payload}
}

// ImportedExchange wraps an import result
func ImportedExchange(success bool) NfcExchange {
	return NfcExchange{Kind: Imported, Success: success}
}

// DataTransferStats is one statistics snapshot from the service
type DataTransferStats struct {
	ConnectedTime      time.Time
	TotalBytesSent     int64
	TotalBytesReceived int64
	SlowBuckets        []int64
	SlowBucketsStart   time.Time
	FastBuckets        []int64
	FastBucketsStart   time.Time
}
