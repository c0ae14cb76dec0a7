// Package fault defines the error classification shared by the pipeline
// loader, the step executor, and the engine. It extends Go's standard error
// handling with structured error codes so callers can distinguish definition
// problems from execution problems without string matching.
package fault

// Code represents a specific error condition in the orchestrator.
// Codes are string-based for debuggability and natural JSON serialization.
type Code string

const (
	// Definition errors.

	// CodeInvalidInput indicates the provided input is invalid or malformed.
	CodeInvalidInput Code = "INVALID_INPUT"

	// CodeInvalidDefinition indicates a pipeline definition failed validation.
	CodeInvalidDefinition Code = "INVALID_DEFINITION"

	// CodeUnsupportedVersion indicates the definition requires an engine
	// version that this engine does not satisfy.
	CodeUnsupportedVersion Code = "UNSUPPORTED_VERSION"

	// Execution errors.

	// CodeExecutionFailed indicates a general execution failure.
	CodeExecutionFailed Code = "EXECUTION_FAILED"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout Code = "TIMEOUT"

	// CodeCancelled indicates an operation was cancelled before completion.
	CodeCancelled Code = "CANCELLED"

	// CodeExecutorFault indicates the executor could not attempt a step at
	// all, as opposed to the step running and failing.
	CodeExecutorFault Code = "EXECUTOR_FAULT"

	// CodeNotImplemented indicates a requested built-in action is not
	// registered with the executor.
	CodeNotImplemented Code = "NOT_IMPLEMENTED"

	// Resource errors.

	// CodeNotFound indicates a requested resource does not exist.
	CodeNotFound Code = "NOT_FOUND"

	// CodeStorage indicates a run-store operation failed.
	CodeStorage Code = "STORAGE_ERROR"

	// CodeUnknown indicates an unknown or unclassified error occurred.
	CodeUnknown Code = "UNKNOWN"
)

// String returns the string representation of the Code.
func (c Code) String() string {
	return string(c)
}
