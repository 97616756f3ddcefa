package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

type stringer string

func (s stringer) String() string { return string(s) }

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:       PhaseEncode,
				Kind:        KindUnsupportedMapping,
				Path:        []string{"greeter", "greet", "arg0"},
				HomeType:    "s64",
				ForeignType: "string",
				Detail:      "cannot convert",
			},
			contains: []string{"[encode]", "unsupported_mapping", "greeter.greet.arg0", "s64", "string", "cannot convert"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseHandle,
				Kind:  KindStaleHandle,
			},
			contains: []string{"[handle]", "stale_handle"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseDispatch,
				Kind:   KindForeignFault,
				Detail: "TypeError: boom",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[dispatch]", "foreign_fault", "TypeError: boom", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseAsync,
		Kind:  KindRejectedOperation,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase: PhaseEncode,
		Kind:  KindRangeOverflow,
		Path:  []string{"foo"},
	}

	if !err.Is(&Error{Phase: PhaseEncode, Kind: KindRangeOverflow}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseDecode, Kind: KindRangeOverflow}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseEncode, Kind: KindStaleHandle}) {
		t.Error("Is should not match different kind")
	}
	if !errors.Is(err, ErrRangeOverflow) {
		t.Error("phase-less sentinel should match any phase")
	}

	wrapped := fmt.Errorf("invoke: %w", err)
	if !errors.Is(wrapped, ErrRangeOverflow) {
		t.Error("errors.Is should see through fmt wrapping")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseDecode, KindUnsupportedMapping).
		Path("mod", "fn").
		HomeType("s32").
		ForeignType("string").
		Value(42).
		Cause(cause).
		Detail("expected %s, got %s", "number", "string").
		Build()

	if err.Phase != PhaseDecode {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseDecode)
	}
	if err.Kind != KindUnsupportedMapping {
		t.Errorf("Kind = %v, want %v", err.Kind, KindUnsupportedMapping)
	}
	if len(err.Path) != 2 || err.Path[0] != "mod" || err.Path[1] != "fn" {
		t.Errorf("Path = %v, want [mod fn]", err.Path)
	}
	if err.HomeType != "s32" || err.ForeignType != "string" {
		t.Errorf("HomeType=%v ForeignType=%v", err.HomeType, err.ForeignType)
	}
	if err.Value != 42 {
		t.Errorf("Value = %v, want 42", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "expected number, got string" {
		t.Errorf("Detail = %v", err.Detail)
	}
}

func TestKindClassification(t *testing.T) {
	tests := []struct {
		err     error
		kind    Kind
		usage   bool
		foreign bool
	}{
		{StaleHandle(stringer("h1")), KindStaleHandle, true, false},
		{WrongSide(stringer("h1"), stringer("host#2")), KindWrongSide, true, false},
		{DoubleProxy(stringer("h1"), stringer("host#3")), KindDoubleProxy, true, false},
		{ForeignFault([]string{"m", "f"}, "Error: nope", nil), KindForeignFault, false, true},
		{Rejected("timeout", "timeout"), KindRejectedOperation, false, true},
		{ModuleNotLoaded("m"), KindModuleNotLoaded, false, false},
		{RangeOverflow(PhaseEncode, nil, int64(1)<<60, "number"), KindRangeOverflow, false, false},
		{errors.New("plain"), "", false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			wrapped := fmt.Errorf("call: %w", tt.err)
			if got := KindOf(wrapped); got != tt.kind {
				t.Errorf("KindOf = %q, want %q", got, tt.kind)
			}
			if got := IsUsage(wrapped); got != tt.usage {
				t.Errorf("IsUsage = %v, want %v", got, tt.usage)
			}
			if got := IsForeignFailure(wrapped); got != tt.foreign {
				t.Errorf("IsForeignFailure = %v, want %v", got, tt.foreign)
			}
			if tt.kind != "" && !IsKind(wrapped, tt.kind) {
				t.Errorf("IsKind(%q) = false", tt.kind)
			}
		})
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Run("RangeOverflow", func(t *testing.T) {
		err := RangeOverflow(PhaseEncode, []string{"val"}, int64(1)<<54, "number")
		if err.Value != int64(1)<<54 {
			t.Errorf("Value = %v", err.Value)
		}
		if !strings.Contains(err.Detail, "overflows number") {
			t.Errorf("Detail = %q", err.Detail)
		}
	})

	t.Run("ForeignFault keeps diagnostic verbatim", func(t *testing.T) {
		err := ForeignFault([]string{"m", "f"}, "RangeError: bad length", nil)
		if err.Detail != "RangeError: bad length" {
			t.Errorf("Detail = %q", err.Detail)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		err := NotFound(PhaseCallback, "callback", "h7")
		if err.Kind != KindNotFound {
			t.Errorf("Kind = %v", err.Kind)
		}
		if !errors.Is(err, ErrNotFound) {
			t.Error("NotFound should match ErrNotFound")
		}
	})

	t.Run("Closed", func(t *testing.T) {
		err := Closed(PhaseLoop, "event loop")
		if !strings.Contains(err.Error(), "event loop is closed") {
			t.Errorf("Error() = %q", err.Error())
		}
	})

	t.Run("Registration", func(t *testing.T) {
		cause := errors.New("duplicate")
		err := Registration(PhaseDeclare, "m", "f", cause)
		if !errors.Is(err, cause) {
			t.Error("Registration should wrap cause")
		}
	})
}
