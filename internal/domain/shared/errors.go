package shared

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Common domain errors
var (
	ErrNotFound            = NewDomainError("NOT_FOUND", "Resource not found")
	ErrAlreadyExists       = NewDomainError("ALREADY_EXISTS", "Resource already exists")
	ErrValidation          = NewDomainError("VALIDATION", "Invalid input provided")
	ErrInvalidState        = NewDomainError("INVALID_STATE", "Operation not allowed in current state")
	ErrUnresolvedConflict  = NewDomainError("UNRESOLVED_CONFLICT", "Change has unresolved conflicts")
	ErrVersionConflict     = NewDomainError("VERSION_CONFLICT", "Entity version was advanced by another process")
	ErrRemoteTransient     = NewDomainError("REMOTE_TRANSIENT", "Remote platform temporarily unavailable")
	ErrRemoteRejected      = NewDomainError("REMOTE_REJECTED", "Remote platform rejected the operation")
	ErrRemoteThrottled     = NewDomainError("REMOTE_THROTTLED", "Remote platform throttled the operation")
	ErrBatchTimeout        = NewDomainError("BATCH_TIMEOUT", "Batch did not complete within the configured deadline")
	ErrBatchCancelled      = NewDomainError("BATCH_CANCELLED", "Batch was cancelled by an operator")
	ErrPersistenceFailure  = NewDomainError("PERSISTENCE_FAILURE", "Persistence layer unavailable")
	ErrOrderingViolation   = NewDomainError("ORDERING_VIOLATION", "An earlier version for this entity is still outstanding")
	ErrConcurrencyConflict = NewDomainError("CONCURRENCY_CONFLICT", "Resource was modified by another process")
)
