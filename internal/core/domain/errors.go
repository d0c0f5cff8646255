package domain

import (
	"fmt"
	"strings"

	"go.trai.ch/zerr"
)

var (
	// ErrTargetAlreadyExists is returned when adding a target whose name is already taken.
	ErrTargetAlreadyExists = zerr.New("target already exists")

	// ErrCycleDetected is returned when the dependency graph contains a cycle.
	ErrCycleDetected = zerr.New("cycle detected")

	// ErrUnknownReference is returned when an expression or dependency list references
	// a name that is neither a target nor a plan var.
	ErrUnknownReference = zerr.New("unknown reference")

	// ErrMissingInput is returned when a declared input file cannot be found,
	// so the fingerprint cannot be computed.
	ErrMissingInput = zerr.New("missing input")

	// ErrTargetNotFound is returned when a requested target is not in the graph.
	ErrTargetNotFound = zerr.New("target not found")

	// ErrNoTargetsSpecified is returned when the run command receives no targets.
	ErrNoTargetsSpecified = zerr.New("no targets specified")

	// ErrReservedTargetName is returned when a target uses the reserved name "all".
	ErrReservedTargetName = zerr.New("target name 'all' is reserved")

	// ErrInvalidTargetName is returned when a target name contains invalid characters.
	ErrInvalidTargetName = zerr.New("target name can only contain alphanumeric characters, hyphens and underscores")

	// ErrReferenceHasNoOutputs is returned when a ${name} placeholder points at a
	// target that declares no outputs, so there is nothing to substitute.
	ErrReferenceHasNoOutputs = zerr.New("referenced target declares no outputs")

	// ErrPlanNotFound is returned when no loom.yaml can be located.
	ErrPlanNotFound = zerr.New("could not find loom.yaml")

	// ErrPlanReadFailed is returned when the plan file cannot be read.
	ErrPlanReadFailed = zerr.New("failed to read plan file")

	// ErrPlanParseFailed is returned when the plan file cannot be parsed.
	ErrPlanParseFailed = zerr.New("failed to parse plan file")

	// ErrInvalidCacheBackend is returned when the plan names an unknown cache backend.
	ErrInvalidCacheBackend = zerr.New("invalid cache backend, expected 'fs' or 'sqlite'")

	// ErrStoreCreateFailed is returned when the store directory cannot be created.
	ErrStoreCreateFailed = zerr.New("failed to create store directory")

	// ErrStoreReadFailed is returned when a cache entry cannot be read.
	ErrStoreReadFailed = zerr.New("failed to read cache entry")

	// ErrStoreWriteFailed is returned when a cache entry cannot be written.
	ErrStoreWriteFailed = zerr.New("failed to write cache entry")

	// ErrStoreMarshalFailed is returned when a cache entry cannot be marshaled.
	ErrStoreMarshalFailed = zerr.New("failed to marshal cache entry")

	// ErrStoreUnmarshalFailed is returned when a cache entry cannot be unmarshaled.
	ErrStoreUnmarshalFailed = zerr.New("failed to unmarshal cache entry")

	// ErrBlobNotFound is returned when a blob digest is not present in the blob store.
	ErrBlobNotFound = zerr.New("blob not found")

	// ErrBlobCorrupt is returned when a restored blob does not match its recorded digest.
	ErrBlobCorrupt = zerr.New("blob content does not match digest")

	// ErrInputResolutionFailed is returned when input glob resolution fails.
	ErrInputResolutionFailed = zerr.New("failed to resolve inputs")

	// ErrFingerprintFailed is returned when fingerprint computation fails.
	ErrFingerprintFailed = zerr.New("failed to compute fingerprint")

	// ErrOutputHashFailed is returned when output hash computation fails.
	ErrOutputHashFailed = zerr.New("failed to compute output hash")

	// ErrOutputMissing is returned when a declared output file does not exist after a build.
	ErrOutputMissing = zerr.New("output file missing")

	// ErrOutputPathOutsideRoot is returned when an output path escapes the project root.
	ErrOutputPathOutsideRoot = zerr.New("output path is outside project root")

	// ErrBuildExecutionFailed is returned when the run as a whole fails.
	ErrBuildExecutionFailed = zerr.New("build execution failed")

	// ErrTargetExecutionFailed is returned when a single target's build fails.
	ErrTargetExecutionFailed = zerr.New("target execution failed")

	// ErrBackendClosed is returned when work is submitted to a closed backend.
	ErrBackendClosed = zerr.New("worker backend is closed")

	// ErrRunInterrupted is returned when a build is cancelled before completion.
	ErrRunInterrupted = zerr.New("run interrupted")
)

// CycleError reports a dependency cycle. Cycle holds the ordered list of
// target names forming the cycle, first element repeated at the end.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return ErrCycleDetected.Error() + ": " + strings.Join(e.Cycle, " -> ")
}

// Unwrap allows errors.Is(err, ErrCycleDetected).
func (e *CycleError) Unwrap() error { return ErrCycleDetected }

// UnknownReferenceError reports a reference to a name that is neither a
// target in the plan nor a resolvable plan var.
type UnknownReferenceError struct {
	Target    string
	Reference string
}

func (e *UnknownReferenceError) Error() string {
	return fmt.Sprintf("%s: %q referenced by target %q", ErrUnknownReference.Error(), e.Reference, e.Target)
}

// Unwrap allows errors.Is(err, ErrUnknownReference).
func (e *UnknownReferenceError) Unwrap() error { return ErrUnknownReference }

// MissingInputError reports a declared input file that could not be found.
// Fingerprinting the affected target cannot proceed.
type MissingInputError struct {
	Target string
	Path   string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("%s: %q declared by target %q", ErrMissingInput.Error(), e.Path, e.Target)
}

// Unwrap allows errors.Is(err, ErrMissingInput).
func (e *MissingInputError) Unwrap() error { return ErrMissingInput }

// BuildError reports a failed build attempt for a single target.
// Retryable distinguishes transient dispatch failures, which the scheduler
// may retry with backoff, from fatal expression errors and timeouts.
type BuildError struct {
	Target    string
	Cause     error
	Retryable bool
}

func (e *BuildError) Error() string {
	kind := "fatal"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("%s: target %q (%s): %v", ErrTargetExecutionFailed.Error(), e.Target, kind, e.Cause)
}

// Unwrap exposes the underlying cause.
func (e *BuildError) Unwrap() error { return e.Cause }
