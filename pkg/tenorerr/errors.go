// Package tenorerr defines the flat error-kind taxonomy shared by every
// core subsystem. Every fatal condition in the evaluation, migration, and
// storage paths is reported as a *Error wrapping one of these kinds, never
// a bare panic, so a caller can recover the kind with errors.As regardless
// of which package raised it.
package tenorerr

import (
	"errors"
	"fmt"
)

// Kind enumerates the error taxonomy of section 7.
type Kind string

const (
	KindDeserialize        Kind = "Deserialize"
	KindMissingFact        Kind = "MissingFact"
	KindUnknownFact        Kind = "UnknownFact"
	KindNotARecord         Kind = "NotARecord"
	KindUnboundVariable    Kind = "UnboundVariable"
	KindTypeError          Kind = "TypeError"
	KindTypeMismatch       Kind = "TypeMismatch"
	KindInvalidEnum        Kind = "InvalidEnum"
	KindListOverflow       Kind = "ListOverflow"
	KindOverflow           Kind = "Overflow"
	KindFlowError          Kind = "FlowError"
	KindConcurrentConflict Kind = "ConcurrentConflict"
	KindStateMismatch      Kind = "StateMismatch"
	KindAdapter            Kind = "Adapter"
	KindAlreadyInit        Kind = "AlreadyInitialized"
	KindEntityNotFound     Kind = "EntityNotFound"
	KindExecutionNotFound  Kind = "ExecutionNotFound"
	KindVersionRegression  Kind = "VersionRegression"
)

// Error is the single error type every core package returns for a fatal
// condition. Context fields are populated by the raising site and are
// optional; a caller renders whichever subset is non-empty.
type Error struct {
	Kind Kind
	Msg  string

	// Rule-evaluation context.
	RuleID   string
	Stratum  int

	// Flow-execution context.
	FlowID string
	StepID string

	// Bundle-load context.
	ConstructKind string
	ConstructID   string

	// Adapter context.
	SourceID string

	// Storage/migration context.
	EntityID   string
	InstanceID string

	Wrapped error
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Is matches by Kind so errors.Is(err, New(KindOverflow, "")) works without
// comparing messages or context.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// New builds a bare kind+message error.
func New(kind Kind, msg string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(msg, args...)}
}

// Wrap attaches a kind to an underlying error, preserving it for errors.Unwrap.
func Wrap(kind Kind, wrapped error, msg string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(msg, args...), Wrapped: wrapped}
}

// WithRule annotates the error with the rule/stratum that produced it.
func (e *Error) WithRule(ruleID string, stratum int) *Error {
	e.RuleID, e.Stratum = ruleID, stratum
	return e
}

// WithFlow annotates the error with the flow/step that produced it.
func (e *Error) WithFlow(flowID, stepID string) *Error {
	e.FlowID, e.StepID = flowID, stepID
	return e
}

// WithConstruct annotates the error with the offending bundle construct.
func (e *Error) WithConstruct(kind, id string) *Error {
	e.ConstructKind, e.ConstructID = kind, id
	return e
}

// WithSource annotates the error with the adapter source id.
func (e *Error) WithSource(sourceID string) *Error {
	e.SourceID = sourceID
	return e
}

// WithEntity annotates the error with the entity/instance involved.
func (e *Error) WithEntity(entityID, instanceID string) *Error {
	e.EntityID, e.InstanceID = entityID, instanceID
	return e
}

// KindOf extracts the Kind from err, returning ("", false) if err does not
// wrap a *Error anywhere in its chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// ExitCode maps a Kind to the CLI exit-code class named in section 7:
// configuration vs. evaluation vs. migration failures.
func ExitCode(kind Kind) int {
	switch kind {
	case KindDeserialize:
		return 2 // configuration / load failure
	case KindStateMismatch, KindVersionRegression:
		return 3 // migration failure
	case KindConcurrentConflict, KindAlreadyInit, KindEntityNotFound, KindExecutionNotFound:
		return 4 // storage/caller-retryable
	default:
		return 1 // evaluation failure
	}
}
