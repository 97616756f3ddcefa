package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Phase indicates where in the bridge the error occurred
type Phase string

const (
	PhaseDeclare  Phase = "declare"  // signature registration
	PhaseEncode   Phase = "encode"   // managed to host
	PhaseDecode   Phase = "decode"   // host to managed
	PhaseHandle   Phase = "handle"   // handle table operations
	PhaseDispatch Phase = "dispatch" // call dispatch
	PhaseAsync    Phase = "async"    // pending operations and futures
	PhaseCallback Phase = "callback" // callback proxy registry
	PhaseLoad     Phase = "load"     // module loading
	PhaseParse    Phase = "parse"    // declaration text parsing
	PhaseLoop     Phase = "loop"     // host event loop
)

// Kind categorizes the error
type Kind string

const (
	KindUnsupportedMapping Kind = "unsupported_mapping"
	KindRangeOverflow      Kind = "range_overflow"
	KindStaleHandle        Kind = "stale_handle"
	KindWrongSide          Kind = "wrong_side"
	KindDoubleProxy        Kind = "double_proxy_not_supported"
	KindModuleNotLoaded    Kind = "module_not_loaded"
	KindForeignFault       Kind = "foreign_fault"
	KindRejectedOperation  Kind = "rejected_operation"
	KindAlreadySettled     Kind = "already_settled"
	KindAbandoned          Kind = "abandoned"
	KindNotFound           Kind = "not_found"
	KindInvalidInput       Kind = "invalid_input"
	KindClosed             Kind = "closed"
	KindRegistration       Kind = "registration"
)

// Sentinels for errors.Is checks that only care about the kind.
var (
	ErrUnsupportedMapping = &Error{Kind: KindUnsupportedMapping}
	ErrRangeOverflow      = &Error{Kind: KindRangeOverflow}
	ErrStaleHandle        = &Error{Kind: KindStaleHandle}
	ErrWrongSide          = &Error{Kind: KindWrongSide}
	ErrDoubleProxy        = &Error{Kind: KindDoubleProxy}
	ErrModuleNotLoaded    = &Error{Kind: KindModuleNotLoaded}
	ErrForeignFault       = &Error{Kind: KindForeignFault}
	ErrRejectedOperation  = &Error{Kind: KindRejectedOperation}
	ErrAlreadySettled     = &Error{Kind: KindAlreadySettled}
	ErrAbandoned          = &Error{Kind: KindAbandoned}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrClosed             = &Error{Kind: KindClosed}
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Value       any
	Cause       error
	Phase       Phase
	Kind        Kind
	HomeType    string
	ForeignType string
	Detail      string
	Path        []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.HomeType != "" || e.ForeignType != "" {
		b.WriteString(": ")
		if e.HomeType != "" && e.ForeignType != "" {
			b.WriteString("home type ")
			b.WriteString(e.HomeType)
			b.WriteString(", foreign type ")
			b.WriteString(e.ForeignType)
		} else if e.HomeType != "" {
			b.WriteString("home type ")
			b.WriteString(e.HomeType)
		} else {
			b.WriteString("foreign type ")
			b.WriteString(e.ForeignType)
		}
	}

	if e.Detail != "" {
		if e.HomeType != "" || e.ForeignType != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target without a phase matches any phase of the same kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		if t.Phase != "" && e.Phase != t.Phase {
			return false
		}
		return e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the call or field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// HomeType sets the managed-side type name
func (b *Builder) HomeType(t string) *Builder {
	b.err.HomeType = t
	return b
}

// ForeignType sets the host-side type name
func (b *Builder) ForeignType(t string) *Builder {
	b.err.ForeignType = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Extract returns the first *Error in err's chain.
func Extract(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return errors.Is(err, &Error{Kind: kind})
}

// IsUsage reports whether err indicates a lifetime or usage bug on the
// calling side (stale handle, wrong side, proxy re-wrapping). These are never
// retried automatically.
func IsUsage(err error) bool {
	switch KindOf(err) {
	case KindStaleHandle, KindWrongSide, KindDoubleProxy:
		return true
	}
	return false
}

// IsForeignFailure reports whether err is a legitimate failure raised on the
// other side of the boundary.
func IsForeignFailure(err error) bool {
	switch KindOf(err) {
	case KindForeignFault, KindRejectedOperation:
		return true
	}
	return false
}

// AtPath attaches a call path to err when it is an *Error without one.
func AtPath(err error, path ...string) error {
	var e *Error
	if errors.As(err, &e) && len(e.Path) == 0 {
		e.Path = path
	}
	return err
}

// Convenience constructors for common error patterns

// UnsupportedMapping creates an unsupported mapping error
func UnsupportedMapping(phase Phase, path []string, homeType, foreignType string) *Error {
	return &Error{
		Phase:       phase,
		Kind:        KindUnsupportedMapping,
		Path:        path,
		HomeType:    homeType,
		ForeignType: foreignType,
	}
}

// RangeOverflow creates a range overflow error
func RangeOverflow(phase Phase, path []string, value any, target string) *Error {
	return &Error{
		Phase:       phase,
		Kind:        KindRangeOverflow,
		Path:        path,
		ForeignType: target,
		Detail:      fmt.Sprintf("value %v overflows %s", value, target),
		Value:       value,
	}
}

// StaleHandle creates a stale handle error
func StaleHandle(handle fmt.Stringer) *Error {
	return &Error{
		Phase:  PhaseHandle,
		Kind:   KindStaleHandle,
		Detail: fmt.Sprintf("handle %s is no longer valid", handle),
		Value:  handle,
	}
}

// WrongSide creates a wrong side error
func WrongSide(handle fmt.Stringer, side fmt.Stringer) *Error {
	return &Error{
		Phase:  PhaseHandle,
		Kind:   KindWrongSide,
		Detail: fmt.Sprintf("handle %s presented by side %s", handle, side),
		Value:  handle,
	}
}

// DoubleProxy creates a proxy re-wrapping error
func DoubleProxy(handle fmt.Stringer, target fmt.Stringer) *Error {
	return &Error{
		Phase:  PhaseHandle,
		Kind:   KindDoubleProxy,
		Detail: fmt.Sprintf("proxy for %s cannot be exposed to side %s", handle, target),
		Value:  handle,
	}
}

// ModuleNotLoaded creates a module-not-loaded error
func ModuleNotLoaded(module string) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindModuleNotLoaded,
		Path:   []string{module},
		Detail: fmt.Sprintf("module %q has not been loaded", module),
	}
}

// ForeignFault creates an error for a condition raised by the target side.
// The diagnostic text is carried verbatim in Detail.
func ForeignFault(path []string, diagnostic string, cause error) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindForeignFault,
		Path:   path,
		Detail: diagnostic,
		Cause:  cause,
	}
}

// Rejected creates a rejected pending operation error carrying the rejection text.
func Rejected(reason string, payload any) *Error {
	return &Error{
		Phase:  PhaseAsync,
		Kind:   KindRejectedOperation,
		Detail: reason,
		Value:  payload,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Closed creates an error for operations on a closed component
func Closed(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s is closed", component),
	}
}

// Registration creates a registration error
func Registration(phase Phase, module, name string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindRegistration,
		Detail: fmt.Sprintf("register %s#%s", module, name),
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidInput,
		Detail: detail,
		Cause:  cause,
	}
}

// ParseFailed creates a parsing error
func ParseFailed(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindInvalidInput,
		Detail: fmt.Sprintf("parse %s", what),
		Cause:  cause,
	}
}
