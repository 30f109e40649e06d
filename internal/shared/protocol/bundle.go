package protocol

import (
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5"
)

// Bundle keys shared by the client and the service.
const (
	KeyStateIsRunning           = "isRunning"
	KeyStateIsVPN               = "isVPN"
	KeyStateIsConnected         = "isConnected"
	KeyStateSocksProxyPort      = "listeningLocalSocksProxyPort"
	KeyStateHTTPProxyPort       = "listeningLocalHttpProxyPort"
	KeyStateClientRegion        = "clientRegion"
	KeyStateSponsorID           = "sponsorId"
	KeyStateNeedsHelpConnecting = "needsHelpConnecting"
	KeyStateHomePages           = "homePages"

	KeyStatsConnectedTime        = "dtsConnectedTime"
	KeyStatsTotalBytesSent       = "dtsTotalBytesSent"
	KeyStatsTotalBytesReceived   = "dtsTotalBytesReceived"
	KeyStatsSlowBuckets          = "dtsSlowBuckets"
	KeyStatsSlowBucketsLastStart = "dtsSlowBucketsLastStartTime"
	KeyStatsFastBuckets          = "dtsFastBuckets"
	KeyStatsFastBucketsLastStart = "dtsFastBucketsLastStartTime"

	KeyExchangeImport         = "exchangeImport"
	KeyExchangeExportResponse = "exchangeExportResponse"
	KeyExchangeImportResponse = "exchangeImportResponse"
)

// Bundle is a flat key/value payload. Values are booleans, integers,
// strings, string lists or integer lists.
type Bundle map[string]interface{}

// EncodeBundle serializes a bundle with MessagePack. A nil or empty bundle
// encodes to an empty payload.
func EncodeBundle(b Bundle) ([]byte, error) {
	if len(b) == 0 {
		return nil, nil
	}
	data, err := msgpack.Marshal(map[string]interface{}(b))
	if err != nil {
		return nil, fmt.Errorf("failed to encode bundle: %w", err)
	}
	return data, nil
}

// DecodeBundle parses a MessagePack payload. An empty payload is an empty bundle.
func DecodeBundle(data []byte) (Bundle, error) {
	b := Bundle{}
	if len(data) == 0 {
		return b, nil
	}
	var m map[string]interface{}
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode bundle: %w", err)
	}
	for k, v := range m {
		b[k] = v
	}
	return b, nil
}

// Has reports whether key is present
func (b Bundle) Has(key string) bool {
	_, ok := b[key]
	return ok
}

// Bool returns the boolean at key. ok is false if the key is missing or
// holds another type.
func (b Bundle) Bool(key string) (v bool, ok bool) {
	v, ok = b[key].(bool)
	return v, ok
}

// String returns the string at key
func (b Bundle) String(key string) (v string, ok bool) {
	v, ok = b[key].(string)
	return v, ok
}

// Int returns the integer at key. MessagePack picks the smallest integer
// encoding, so every integer width is accepted.
func (b Bundle) Int(key string) (int64, bool) {
	return toInt64(b[key])
}

// Strings returns the string list at key
func (b Bundle) Strings(key string) ([]string, bool) {
	switch v := b[key].(type) {
	case []string:
		return append([]string(nil), v...), true
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// Ints returns the integer list at key
func (b Bundle) Ints(key string) ([]int64, bool) {
	switch v := b[key].(type) {
	case []int64:
		return append([]int64(nil), v...), true
	case []interface{}:
		out := make([]int64, 0, len(v))
		for _, item := range v {
			n, ok := toInt64(item)
			if !ok {
				return nil, false
			}
			out = append(out, n)
		}
		return out, true
	default:
		return nil, false
	}
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}
