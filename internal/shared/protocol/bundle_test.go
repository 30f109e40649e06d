package protocol

import (
	"math"
	"reflect"
	"testing"
)

func TestBundle_EncodeDecode(t *testing.T) {
	in := Bundle{
		KeyStateIsRunning:     true,
		KeyStateHTTPProxyPort: 8118,
		KeyStateClientRegion:  "CA",
		KeyStateHomePages:     []string{"https://a.example", "https://b.example"},
		KeyStatsSlowBuckets:   []int64{1, 300, 70000},
	}

	data, err := EncodeBundle(in)
	if err != nil {
		t.Fatalf("EncodeBundle() error = %v", err)
	}

	out, err := DecodeBundle(data)
	if err != nil {
		t.Fatalf("DecodeBundle() error = %v", err)
	}

	if v, ok := out.Bool(KeyStateIsRunning); !ok || !v {
		t.Errorf("Bool(isRunning) = %v, %v, want true, true", v, ok)
	}
	if v, ok := out.Int(KeyStateHTTPProxyPort); !ok || v != 8118 {
		t.Errorf("Int(httpPort) = %v, %v, want 8118, true", v, ok)
	}
	if v, ok := out.String(KeyStateClientRegion); !ok || v != "CA" {
		t.Errorf("String(region) = %v, %v, want CA, true", v, ok)
	}
	pages, ok := out.Strings(KeyStateHomePages)
	if !ok || !reflect.DeepEqual(pages, []string{"https://a.example", "https://b.example"}) {
		t.Errorf("Strings(homePages) = %v, %v", pages, ok)
	}
	buckets, ok := out.Ints(KeyStatsSlowBuckets)
	if !ok || !reflect.DeepEqual(buckets, []int64{1, 300, 70000}) {
		t.Errorf("Ints(slowBuckets) = %v, %v", buckets, ok)
	}
}

func TestBundle_Empty(t *testing.T) {
	data, err := EncodeBundle(nil)
	if err != nil {
		t.Fatalf("EncodeBundle(nil) error = %v", err)
	}
	if len(data) != 0 {
		t.Errorf("EncodeBundle(nil) len = %d, want 0", len(data))
	}

	b, err := DecodeBundle(nil)
	if err != nil {
		t.Fatalf("DecodeBundle(nil) error = %v", err)
	}
	if b == nil || len(b) != 0 {
		t.Errorf("DecodeBundle(nil) = %v, want empty bundle", b)
	}
}

func TestBundle_Garbled(t *testing.T) {
	if _, err := DecodeBundle([]byte{0xc1, 0x00, 0xff}); err == nil {
		t.Error("DecodeBundle(garbage) error = nil, want error")
	}
}

func TestBundle_TypeMismatch(t *testing.T) {
	b := Bundle{"port": "not a number", "flag": 1, "list": []interface{}{"a", 2}, "huge": uint64(math.MaxUint64)}

	tests := []struct {
		name string
		ok   bool
	}{
		{name: "int from string", ok: func() bool { _, ok := b.Int("port"); return ok }()},
		{name: "bool from int", ok: func() bool { _, ok := b.Bool("flag"); return ok }()},
		{name: "strings with int item", ok: func() bool { _, ok := b.Strings("list"); return ok }()},
		{name: "int overflows int64", ok: func() bool { _, ok := b.Int("huge"); return ok }()},
		{name: "missing key", ok: func() bool { _, ok := b.String("missing"); return ok }()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.ok {
				t.Errorf("getter ok = true, want false")
			}
		})
	}
}
