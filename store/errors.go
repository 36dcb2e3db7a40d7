package store

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrAlreadyExists is returned when a conditional create finds an existing item.
	ErrAlreadyExists = errors.New("itemstore: item already exists")

	// ErrNotFound is returned by lookups that require the item to exist.
	ErrNotFound = errors.New("itemstore: item not found")

	// ErrInvalid is returned when a key, attribute name or payload fails validation.
	ErrInvalid = errors.New("itemstore: invalid input")

	// ErrStoreFailed is returned for any other failure of the underlying store.
	ErrStoreFailed = errors.New("itemstore: store operation failed")

	// ErrConditionFailed must be wrapped by Backend implementations when a
	// write condition (item absent, item present) does not hold.
	ErrConditionFailed = errors.New("itemstore: condition check failed")
)

// ConditionalCheckFailedCode is the store error code reported for failed write conditions.
const ConditionalCheckFailedCode = "ConditionalCheckFailedException"

// Kind classifies an Error.
type Kind int

const (
	// KindStoreFailure covers permissions, throttling, network and other store errors.
	KindStoreFailure Kind = iota
	// KindConflict means a conditional create found an existing key.
	KindConflict
	// KindNotFound means a required item does not exist.
	KindNotFound
	// KindValidation means caller input was rejected before reaching the store.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	default:
		return "store_failure"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindConflict:
		return ErrAlreadyExists
	case KindNotFound:
		return ErrNotFound
	case KindValidation:
		return ErrInvalid
	default:
		return ErrStoreFailed
	}
}

// Error is the error type returned by Store operations.
//
// Details must only hold JSON-serialisable values; when they cannot be
// serialised the error still renders, with the message alone.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Code    string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if len(e.Details) == 0 {
		return "itemstore: " + e.Message
	}
	b, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Sprintf("itemstore: %s (details could not be encoded)", e.Message)
	}
	return fmt.Sprintf("itemstore: %s: %s", e.Message, b)
}

// Unwrap returns the underlying store error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// WithCorrelationID records a correlation id in the error details.
func (e *Error) WithCorrelationID(id string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details["correlation_id"] = id
	return e
}

// ResponseBody renders the error as a JSON object holding the message and
// every detail. If the details cannot be encoded only the message is kept.
func (e *Error) ResponseBody() []byte {
	body := make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		body[k] = v
	}
	body["message"] = e.Message
	b, err := json.Marshal(body)
	if err != nil {
		b, _ = json.Marshal(map[string]string{"message": e.Message})
	}
	return b
}

// AsError returns the *Error in err's chain, or nil.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// IsConflict reports whether err is a conditional-create conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsNotFound reports whether err reports a missing item.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation reports whether err reports rejected caller input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalid)
}

func validationError(op, format string, args ...any) *Error {
	return &Error{
		Kind:    KindValidation,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
		Details: map[string]any{"operation": op},
	}
}
