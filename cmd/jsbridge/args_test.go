package main

import (
	"math/big"
	"testing"
	"time"

	"github.com/wippyai/js-bridge/errors"
	"github.com/wippyai/js-bridge/value"
)

func TestParseArg(t *testing.T) {
	huge, _ := new(big.Int).SetString("18446744073709551615", 10)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		raw  string
		m    value.Mapping
		want value.Value
	}{
		{"bool", "true", value.Boolean, value.Bool(true)},
		{"s32", "-42", value.S32, value.Int(-42)},
		{"u64 beyond int64", "18446744073709551615", value.As(value.KindUint64, value.TagBigInt), value.BigInt(huge)},
		{"bigint suffix", "12n", value.M(value.KindBigInt), value.Int(12)},
		{"f64", "2.5", value.F64, value.Float(2.5)},
		{"string", "hello world", value.Text, value.String("hello world")},
		{"instant", "2024-03-01T12:00:00Z", value.Date, value.Instant(at)},
		{"any int", "7", value.Any, value.Int(7)},
		{"any bigint", "7n", value.Any, value.BigInt(big.NewInt(7))},
		{"any float", "0.5", value.Any, value.Float(0.5)},
		{"any bool", "false", value.Any, value.Bool(false)},
		{"any string", "x1", value.Any, value.String("x1")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseArg(tt.raw, tt.m)
			if err != nil {
				t.Fatalf("parseArg(%q) error: %v", tt.raw, err)
			}
			if !value.Equal(got, tt.want) {
				t.Errorf("parseArg(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseArgErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		m    value.Mapping
	}{
		{"bad bool", "maybe", value.Boolean},
		{"bad int", "4.5", value.S32},
		{"bad float", "x", value.F64},
		{"bad instant", "yesterday", value.Date},
		{"object", "{}", value.Obj},
		{"function", "f", value.Fn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseArg(tt.raw, tt.m)
			if !errors.IsKind(err, errors.KindInvalidInput) {
				t.Errorf("parseArg(%q) error = %v, want invalid input", tt.raw, err)
			}
		})
	}
}
