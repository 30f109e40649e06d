package protocol

import "fmt"

// Opcodes are stable numeric tags. Values are never reused or reordered;
// new opcodes are appended at the end of their range.

// ControlOpcode identifies a client-to-service control message
type ControlOpcode byte

const (
	// OpRegister tells the service to deliver events to the sending connection
	OpRegister ControlOpcode = 0x01
	// OpUnregister stops event delivery to the sending connection
	OpUnregister ControlOpcode = 0x02
	// OpStopService asks the service to stop the tunnel and exit
	OpStopService ControlOpcode = 0x03
	// OpRestartService asks the service to restart the tunnel in place
	OpRestartService ControlOpcode = 0x04
	// OpExchangeImport hands the service a connection info payload to import
	OpExchangeImport ControlOpcode = 0x05
	// OpExchangeExport asks the service for an exportable connection info payload
	OpExchangeExport ControlOpcode = 0x06
)

// String returns the string representation of the control opcode
func (o ControlOpcode) String() string {
	switch o {
	case OpRegister:
		return "REGISTER"
	case OpUnregister:
		return "UNREGISTER"
	case OpStopService:
		return "STOP_SERVICE"
	case OpRestartService:
		return "RESTART_SERVICE"
	case OpExchangeImport:
		return "NFC_EXCHANGE_IMPORT"
	case OpExchangeExport:
		return "NFC_EXCHANGE_EXPORT"
	default:
		return fmt.Sprintf("Unknown(%d)", byte(o))
	}
}

// IsKnown reports whether the opcode is one this build understands
func (o ControlOpcode) IsKnown() bool {
	return o >= OpRegister && o <= OpExchangeExport
}

// EventOpcode identifies a service-to-client event message
type EventOpcode byte

const (
	// EvKnownServerRegions signals that the region list is available
	EvKnownServerRegions EventOpcode = 0x41
	// EvTunnelConnectionState carries a tunnel state snapshot
	EvTunnelConnectionState EventOpcode = 0x42
	// EvDataTransferStats carries a data transfer statistics snapshot
	EvDataTransferStats EventOpcode = 0x43
	// EvExchangeExportResponse carries an exported connection info payload
	EvExchangeExportResponse EventOpcode = 0x44
	// EvExchangeImportResponse carries the result of an import
	EvExchangeImportResponse EventOpcode = 0x45
)

// String returns the string representation of the event opcode
func (o EventOpcode) String() string {
	switch o {
	case EvKnownServerRegions:
		return "KNOWN_SERVER_REGIONS"
	case EvTunnelConnectionState:
		return "TUNNEL_CONNECTION_STATE"
	case EvDataTransferStats:
		return "DATA_TRANSFER_STATS"
	case EvExchangeExportResponse:
		return "NFC_EXCHANGE_RESPONSE_EXPORT"
	case EvExchangeImportResponse:
		return "NFC_EXCHANGE_RESPONSE_IMPORT"
	default:
		return fmt.Sprintf("Unknown(%d)", byte(o))
	}
}

// IsKnown reports whether the opcode is one this build understands
func (o EventOpcode) IsKnown() bool {
	return o >= EvKnownServerRegions && o <= EvExchangeImportResponse
}
