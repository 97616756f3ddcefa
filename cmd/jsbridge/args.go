package main

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/wippyai/js-bridge/errors"
	"github.com/wippyai/js-bridge/value"
)

// parseArg converts a command-line string to a value of mapping m's kind.
func parseArg(raw string, m value.Mapping) (value.Value, error) {
	switch m.Kind {
	case value.KindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return value.Value{}, errors.ParseFailed("bool argument", err)
		}
		return value.Bool(b), nil
	case value.KindInt8, value.KindUint8, value.KindInt16, value.KindUint16,
		value.KindInt32, value.KindUint32, value.KindInt64, value.KindUint64, value.KindBigInt:
		return parseInteger(raw)
	case value.KindFloat32, value.KindFloat64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return value.Value{}, errors.ParseFailed("float argument", err)
		}
		return value.Float(f), nil
	case value.KindString:
		return value.String(raw), nil
	case value.KindInstant:
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return value.Value{}, errors.ParseFailed("instant argument", err)
		}
		return value.Instant(t), nil
	case value.KindAny:
		return guess(raw), nil
	}
	return value.Value{}, errors.InvalidInput(errors.PhaseParse,
		fmt.Sprintf("%s arguments cannot be given on the command line", m.Kind))
}

// parseInteger accepts any decimal integer and an optional bigint suffix.
// Values outside int64 become BigInt; the codec range-checks them.
func parseInteger(raw string) (value.Value, error) {
	n, ok := new(big.Int).SetString(strings.TrimSuffix(raw, "n"), 10)
	if !ok {
		return value.Value{}, errors.ParseFailed("integer argument", fmt.Errorf("invalid integer %q", raw))
	}
	if n.IsInt64() {
		return value.Int(n.Int64()), nil
	}
	return value.BigInt(n), nil
}

// guess picks a value for an untyped argument: a trailing n makes a bigint,
// then integer, float and bool are tried before falling back to a string.
func guess(raw string) value.Value {
	if digits, ok := strings.CutSuffix(raw, "n"); ok {
		if n, ok := new(big.Int).SetString(digits, 10); ok {
			return value.BigInt(n)
		}
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return value.Int(i)
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return value.Float(f)
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return value.Bool(b)
	}
	return value.String(raw)
}
