package vm

import (
	"errors"
	"fmt"
)

// ErrorType represents the type of runtime error.
type ErrorType string

const (
	// Opcode faults, isolatable under FaultIsolate
	ErrorUnknownOpcode      ErrorType = "UNKNOWN_OPCODE"
	ErrorMalformedOperand   ErrorType = "MALFORMED_OPERAND"
	ErrorCallStackOverflow  ErrorType = "CALL_STACK_OVERFLOW"
	ErrorCallStackUnderflow ErrorType = "CALL_STACK_UNDERFLOW"
	ErrorInstructionBudget  ErrorType = "INSTRUCTION_BUDGET"

	// Resource failures always abort the frame
	ErrorResource ErrorType = "RESOURCE"
)

// ErrFault is matched by every RuntimeError with errors.Is.
var ErrFault = errors.New("vm fault")

// RuntimeError is an opcode-level fault, located by thread and program
// counter. PC is the offset of the faulting instruction.
type RuntimeError struct {
	Type     ErrorType
	Message  string
	ThreadID int
	PC       PC
	Err      error // underlying cause, if any
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("[%s] %s (thread %d at %s)", e.Type, e.Message, e.ThreadID, e.PC)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrFault) hold for every RuntimeError.
func (e *RuntimeError) Is(target error) bool {
	return target == ErrFault
}

// IsIsolatable returns true if the fault may be confined to the faulting
// thread. Resource failures mean corrupted or missing game data and always
// abort.
func (e *RuntimeError) IsIsolatable() bool {
	return e.Type != ErrorResource
}

// NewRuntimeError creates a new RuntimeError without location; Step fills
// in the thread and PC.
func NewRuntimeError(errType ErrorType, message string) *RuntimeError {
	return &RuntimeError{
		Type:     errType,
		Message:  message,
		ThreadID: -1,
	}
}

// AsRuntimeError extracts a RuntimeError from err.
func AsRuntimeError(err error) (*RuntimeError, bool) {
	var rerr *RuntimeError
	if errors.As(err, &rerr) {
		return rerr, true
	}
	return nil, false
}

func newUnknownOpcodeError(op byte) *RuntimeError {
	return NewRuntimeError(ErrorUnknownOpcode, fmt.Sprintf("unknown opcode 0x%02x", op))
}

func newMalformedOperandError(format string, args ...any) *RuntimeError {
	return NewRuntimeError(ErrorMalformedOperand, fmt.Sprintf(format, args...))
}

func newCallStackOverflowError(depth int) *RuntimeError {
	return NewRuntimeError(ErrorCallStackOverflow, fmt.Sprintf("call stack overflow: depth %d exceeds maximum", depth))
}

func newCallStackUnderflowError() *RuntimeError {
	return NewRuntimeError(ErrorCallStackUnderflow, "return with empty call stack")
}

func newResourceError(id int, err error) *RuntimeError {
	return &RuntimeError{
		Type:     ErrorResource,
		Message:  fmt.Sprintf("cannot load resource 0x%02x", id),
		ThreadID: -1,
		Err:      err,
	}
}
