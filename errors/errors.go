package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseEncode Phase = "encode" // Go value to wire bytes
	PhaseDecode Phase = "decode" // wire bytes to Go value
	PhaseSchema Phase = "schema" // function artifact and definitions
	PhaseLoad   Phase = "load"   // module compilation
	PhaseLink   Phase = "link"   // import resolution
	PhaseBridge Phase = "bridge" // guest to host extension calls
	PhaseRun    Phase = "run"    // guest execution
	PhaseConfig Phase = "config" // settings and runtime configuration
)

// Kind categorizes the error
type Kind string

const (
	KindTruncated          Kind = "truncated"
	KindTypeMismatch       Kind = "type_mismatch"
	KindUnknownKind        Kind = "unknown_kind"
	KindLengthOverflow     Kind = "length_overflow"
	KindDuplicateKey       Kind = "duplicate_key"
	KindInvalidData        Kind = "invalid_data"
	KindInvalidUTF8        Kind = "invalid_utf8"
	KindInvalidEnum        Kind = "invalid_enum"
	KindOverflow           Kind = "overflow"
	KindUnsupportedVersion Kind = "unsupported_version"
	KindHashMismatch       Kind = "hash_mismatch"
	KindFieldMissing       Kind = "field_missing"
	KindFieldUnknown       Kind = "field_unknown"
	KindInvalidDefinition  Kind = "invalid_definition"
	KindUnknownHandle      Kind = "unknown_handle"
	KindUnknownSelector    Kind = "unknown_selector"
	KindInvalidArgument    Kind = "invalid_argument"
	KindHostFailure        Kind = "host_failure"
	KindRegistration       Kind = "registration"
	KindTrap               Kind = "trap"
	KindGuestError         Kind = "guest_error"
	KindResourceLimit      Kind = "resource_limit"
	KindAllocation         Kind = "allocation"
	KindMissingImport      Kind = "missing_import"
	KindMissingExport      Kind = "missing_export"
	KindInstantiation      Kind = "instantiation"
	KindInvalidState       Kind = "invalid_state"
	KindInvalidInput       Kind = "invalid_input"
	KindNotFound           Kind = "not_found"
)

// Category sentinels. They match any *Error of the same phase:
//
//	if errors.Is(err, errors.ErrFormat) { ... }
var (
	ErrFormat     = &Error{Phase: PhaseDecode}
	ErrSchema     = &Error{Phase: PhaseSchema}
	ErrBridge     = &Error{Phase: PhaseBridge}
	ErrGuestFault = &Error{Phase: PhaseRun}
)

// Error is the structured error type used throughout the runtime
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	Expected string
	Actual   string
	Detail   string
	Path     []string
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

	hasKinds := e.Expected != "" || e.Actual != ""
	if hasKinds {
		b.WriteString(": ")
		switch {
		case e.Expected != "" && e.Actual != "":
			b.WriteString("expected ")
			b.WriteString(e.Expected)
			b.WriteString(", got ")
			b.WriteString(e.Actual)
		case e.Expected != "":
			b.WriteString("expected ")
			b.WriteString(e.Expected)
		default:
			b.WriteString("got ")
			b.WriteString(e.Actual)
		}
	}

	if e.Detail != "" {
		if hasKinds {
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

// Is reports whether target matches this error. A target without a Kind
// matches every error of its phase.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == "" {
		return e.Phase == t.Phase
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
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

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Expected sets the expected kind or type name
func (b *Builder) Expected(s string) *Builder {
	b.err.Expected = s
	return b
}

// Actual sets the observed kind or type name
func (b *Builder) Actual(s string) *Builder {
	b.err.Actual = s
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

// Wire format constructors

// Truncated reports that fewer bytes remain than a value needs
func Truncated(offset, need, have int) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindTruncated,
		Value:  offset,
		Detail: fmt.Sprintf("need %d bytes at offset %d, have %d", need, offset, have),
	}
}

// TypeMismatch reports a tag that differs from the expected kind
func TypeMismatch(phase Phase, path []string, expected, actual string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindTypeMismatch,
		Path:     path,
		Expected: expected,
		Actual:   actual,
	}
}

// UnknownKind reports a tag byte outside the kind registry
func UnknownKind(offset int, tag byte) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindUnknownKind,
		Value:  tag,
		Detail: fmt.Sprintf("unknown kind tag 0x%02x at offset %d", tag, offset),
	}
}

// LengthOverflow reports a length or count prefix larger than the remaining input
func LengthOverflow(offset int, length uint32, remaining int) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindLengthOverflow,
		Value:  length,
		Detail: fmt.Sprintf("length %d at offset %d exceeds remaining %d bytes", length, offset, remaining),
	}
}

// DuplicateKey reports a repeated map key in decoded input
func DuplicateKey(path []string, key any) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindDuplicateKey,
		Path:   path,
		Value:  key,
		Detail: fmt.Sprintf("duplicate map key %v", key),
	}
}

// InvalidUTF8 creates an invalid UTF-8 error
func InvalidUTF8(phase Phase, path []string, data []byte) *Error {
	preview := data
	if len(preview) > 32 {
		preview = preview[:32]
	}
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidUTF8,
		Path:   path,
		Detail: fmt.Sprintf("invalid UTF-8 sequence: %x", preview),
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, path []string, value any, target string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindOverflow,
		Path:     path,
		Expected: target,
		Detail:   fmt.Sprintf("value %v overflows %s", value, target),
		Value:    value,
	}
}

// InvalidEnum creates an invalid enum value error
func InvalidEnum(phase Phase, path []string, value any, enumType string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindInvalidEnum,
		Path:     path,
		Expected: enumType,
		Detail:   fmt.Sprintf("invalid enum value %v for %s", value, enumType),
		Value:    value,
	}
}

// Schema constructors

// UnsupportedVersion reports a function artifact with an unknown version tag
func UnsupportedVersion(version string) *Error {
	return &Error{
		Phase:  PhaseSchema,
		Kind:   KindUnsupportedVersion,
		Value:  version,
		Detail: fmt.Sprintf("unsupported artifact version %q", version),
	}
}

// HashMismatch reports a definition whose recorded hash differs from its content
func HashMismatch(what, expected, actual string) *Error {
	return &Error{
		Phase:    PhaseSchema,
		Kind:     KindHashMismatch,
		Expected: expected,
		Actual:   actual,
		Detail:   what,
	}
}

// FieldMissing creates a missing field error
func FieldMissing(phase Phase, path []string, fieldName string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindFieldMissing,
		Path:   path,
		Detail: fmt.Sprintf("required field %q not found", fieldName),
	}
}

// FieldUnknown creates an unknown field error
func FieldUnknown(phase Phase, path []string, fieldName string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindFieldUnknown,
		Path:   path,
		Detail: fmt.Sprintf("unknown field %q", fieldName),
	}
}

// InvalidDefinition reports a signature or extension definition that fails validation
func InvalidDefinition(path []string, detail string) *Error {
	return &Error{
		Phase:  PhaseSchema,
		Kind:   KindInvalidDefinition,
		Path:   path,
		Detail: detail,
	}
}

// Bridge constructors

// UnknownHandle reports a handle that was never allocated or was released
func UnknownHandle(extension string, handle uint64) *Error {
	return &Error{
		Phase:  PhaseBridge,
		Kind:   KindUnknownHandle,
		Path:   []string{extension},
		Value:  handle,
		Detail: fmt.Sprintf("handle %d is not live", handle),
	}
}

// UnknownSelector reports a method selector the handle's interface does not define
func UnknownSelector(extension, iface, selector string) *Error {
	return &Error{
		Phase:  PhaseBridge,
		Kind:   KindUnknownSelector,
		Path:   []string{extension, iface},
		Value:  selector,
		Detail: fmt.Sprintf("no method %q", selector),
	}
}

// Registration creates a registration error
func Registration(phase Phase, namespace, name string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindRegistration,
		Detail: fmt.Sprintf("register %s#%s", namespace, name),
		Cause:  cause,
	}
}

// Run and runtime constructors

// Trap reports a guest that aborted execution
func Trap(export string, cause error) *Error {
	return &Error{
		Phase:  PhaseRun,
		Kind:   KindTrap,
		Path:   []string{export},
		Detail: "guest trapped",
		Cause:  cause,
	}
}

// GuestError reports an error value returned by the guest in place of its result
func GuestError(message string) *Error {
	return &Error{
		Phase:  PhaseRun,
		Kind:   KindGuestError,
		Value:  message,
		Detail: message,
	}
}

// ResourceLimit reports a run aborted by a host-imposed limit
func ResourceLimit(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseRun,
		Kind:   KindResourceLimit,
		Detail: detail,
		Cause:  cause,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, size uint32, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes in guest memory", size),
		Cause:  cause,
	}
}

// MissingExport reports a guest that lacks an export the runtime requires
func MissingExport(name string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindMissingExport,
		Value:  name,
		Detail: fmt.Sprintf("guest does not export %q", name),
	}
}

// Instantiation creates an instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseLink,
		Kind:   KindInstantiation,
		Detail: "instantiate module",
		Cause:  cause,
	}
}

// InvalidState reports an operation attempted in the wrong lifecycle state
func InvalidState(op, state string) *Error {
	return &Error{
		Phase:  PhaseRun,
		Kind:   KindInvalidState,
		Actual: state,
		Detail: fmt.Sprintf("cannot %s", op),
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

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: detail,
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

// MissingImport represents a single unresolved import
type MissingImport struct {
	Namespace string // e.g., "local-example"
	Function  string // e.g., "Example_Hello"
}

// MissingImportsError is returned when a guest imports functions no bound module provides
type MissingImportsError struct {
	Imports []MissingImport
}

// NewMissingImportsError creates an error from a list of "namespace#function" strings
func NewMissingImportsError(imports []string) *MissingImportsError {
	result := &MissingImportsError{
		Imports: make([]MissingImport, 0, len(imports)),
	}
	for _, imp := range imports {
		ns, fn := parseImportKey(imp)
		result.Imports = append(result.Imports, MissingImport{
			Namespace: ns,
			Function:  fn,
		})
	}
	return result
}

func parseImportKey(key string) (namespace, function string) {
	ns, fn, found := strings.Cut(key, "#")
	if found {
		return ns, fn
	}
	return key, ""
}

func (e *MissingImportsError) Error() string {
	if len(e.Imports) == 0 {
		return "[link] missing_import: no imports specified"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[link] missing_import: %d unresolved import(s):\n", len(e.Imports))

	byNS := make(map[string][]string)
	var nsOrder []string
	for _, imp := range e.Imports {
		if _, exists := byNS[imp.Namespace]; !exists {
			nsOrder = append(nsOrder, imp.Namespace)
		}
		byNS[imp.Namespace] = append(byNS[imp.Namespace], imp.Function)
	}

	for _, ns := range nsOrder {
		b.WriteString("\n  ")
		b.WriteString(ns)
		b.WriteString(":\n")
		for _, fn := range byNS[ns] {
			b.WriteString("    - ")
			b.WriteString(fn)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type. MissingImportsError
// also matches the link-phase missing_import kind.
func (e *MissingImportsError) Is(target error) bool {
	switch t := target.(type) {
	case *MissingImportsError:
		return true
	case *Error:
		return t.Phase == PhaseLink && (t.Kind == "" || t.Kind == KindMissingImport)
	}
	return false
}
