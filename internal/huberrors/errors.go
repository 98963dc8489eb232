// Package huberrors provides sentinel and custom error types shared by services, repositories and handlers.
package huberrors

// Resource names used in NotFoundError.
const (
	ResourceWebhookEndpoint    = "webhook endpoint"
	ResourceWebhookDelivery    = "webhook delivery"
	ResourceDeadLetter         = "dead-letter entry"
	ResourceConflict           = "conflict"
	ResourceConflictResolution = "conflict resolution"
	ResourceMerge              = "merge"
	ResourceAnalysis           = "analysis"
)

// EndpointInactiveMessage is the conflict message and dead-letter reason for deliveries to an inactive endpoint.
const EndpointInactiveMessage = "Endpoint not active"

// ErrNotFound matches any *NotFoundError via errors.Is.
var ErrNotFound = &NotFoundError{}

// NotFoundError is returned when a requested resource doesn't exist.
type NotFoundError struct {
	Resource string
	Message  string
}

// NewNotFoundError creates a new NotFoundError with a custom message.
func NewNotFoundError(resource, message string) *NotFoundError {
	return &NotFoundError{
		Resource: resource,
		Message:  message,
	}
}

// NotFound creates a NotFoundError whose message is derived from the resource name.
func NotFound(resource string) *NotFoundError {
	return &NotFoundError{Resource: resource}
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	if e.Resource != "" {
		return e.Resource + " not found"
	}

	return "resource not found"
}

// Is reports whether target is a *NotFoundError.
func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)

	return ok
}

// ErrValidation matches any *ValidationError via errors.Is.
var ErrValidation = &ValidationError{}

// ValidationError is returned when client input or a domain value is malformed.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a new ValidationError with a custom message.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	if e.Field != "" {
		return "validation failed for field: " + e.Field
	}

	return "validation error"
}

// Is reports whether target is a *ValidationError.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)

	return ok
}

// ErrLimitExceeded matches any *LimitExceededError via errors.Is.
var ErrLimitExceeded = &LimitExceededError{}

// LimitExceededError is returned when an operation is rejected because a configured limit was reached.
type LimitExceededError struct {
	Message string
}

// NewLimitExceededError creates a LimitExceededError with a custom message.
func NewLimitExceededError(message string) *LimitExceededError {
	return &LimitExceededError{Message: message}
}

// Error implements the error interface.
func (e *LimitExceededError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	return "limit exceeded"
}

// Is reports whether target is a *LimitExceededError.
func (e *LimitExceededError) Is(target error) bool {
	_, ok := target.(*LimitExceededError)

	return ok
}

// ErrConflict matches any *ConflictError via errors.Is.
// Used for duplicate rows, already-resolved conflicts and inactive endpoints.
var ErrConflict = &ConflictError{}

// ConflictError is returned when the request conflicts with the current resource state.
type ConflictError struct {
	Message string
}

// NewConflictError creates a ConflictError with a custom message.
func NewConflictError(message string) *ConflictError {
	return &ConflictError{Message: message}
}

// NewEndpointInactiveError is returned when a delivery targets a deactivated endpoint.
func NewEndpointInactiveError() *ConflictError {
	return &ConflictError{Message: EndpointInactiveMessage}
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	return "conflict"
}

// Is reports whether target is a *ConflictError.
func (e *ConflictError) Is(target error) bool {
	_, ok := target.(*ConflictError)

	return ok
}
