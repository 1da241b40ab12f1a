package remote

import (
	"encoding/json"
	"errors"
	"strings"
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

var (
	// ErrUnavailable covers connection failures and 5xx responses; retried
	ErrUnavailable = errors.New("remote: platform temporarily unavailable")
	// ErrThrottled signals the platform rejected the call for rate reasons; retried
	ErrThrottled = errors.New("remote: platform throttled the request")
	// ErrRejected covers 4xx and remote-side user errors; never retried
	ErrRejected = errors.New("remote: platform rejected the request")
	// ErrInvalidResponse signals an undecodable platform response
	ErrInvalidResponse = errors.New("remote: invalid platform response")
)

// ---------------------------------------------------------------------------
// Request / Response
// ---------------------------------------------------------------------------

// Request is one GraphQL query or mutation against the remote platform
type Request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// IsMutation reports whether the request mutates remote state.
// Mutations bypass the query cache unconditionally.
func (r *Request) IsMutation() bool {
	return strings.HasPrefix(strings.TrimSpace(r.Query), "mutation")
}

// GraphQLError is one error entry in a platform response
type GraphQLError struct {
	Message    string         `json:"message"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// IsThrottled reports whether the error is the platform's throttle signal
func (e *GraphQLError) IsThrottled() bool {
	if code, ok := e.Extensions["code"].(string); ok {
		return strings.EqualFold(code, "THROTTLED")
	}
	return false
}

// Response is a decoded platform response including its cost metadata
type Response struct {
	Data   json.RawMessage `json:"data,omitempty"`
	Errors []GraphQLError  `json:"errors,omitempty"`
	Cost   OperationCost   `json:"cost"`
}

// HasUserErrors reports whether the platform returned non-throttle errors
func (r *Response) HasUserErrors() bool {
	for i := range r.Errors {
		if !r.Errors[i].IsThrottled() {
			return true
		}
	}
	return false
}

// IsThrottled reports whether any error entry is a throttle signal
func (r *Response) IsThrottled() bool {
	for i := range r.Errors {
		if r.Errors[i].IsThrottled() {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// OperationCost
// ---------------------------------------------------------------------------

// OperationCost is the per-call cost and throttle metadata the platform
// attaches to every response. Ephemeral: it feeds pacing decisions only.
type OperationCost struct {
	RequestedCost      int     `json:"requested_cost"`
	ActualCost         int     `json:"actual_cost"`
	MaximumAvailable   float64 `json:"maximum_available"`
	CurrentlyAvailable float64 `json:"currently_available"`
	RestoreRate        float64 `json:"restore_rate"`
}

// wireResponse mirrors the platform's raw response envelope
type wireResponse struct {
	Data       json.RawMessage `json:"data"`
	Errors     []GraphQLError  `json:"errors"`
	Extensions struct {
		Cost struct {
			RequestedQueryCost int `json:"requestedQueryCost"`
			ActualQueryCost    int `json:"actualQueryCost"`
			ThrottleStatus     struct {
				MaximumAvailable   float64 `json:"maximumAvailable"`
				CurrentlyAvailable float64 `json:"currentlyAvailable"`
				RestoreRate        float64 `json:"restoreRate"`
			} `json:"throttleStatus"`
		} `json:"cost"`
	} `json:"extensions"`
}

// toResponse flattens the wire envelope into the engine's response type
func (w *wireResponse) toResponse() *Response {
	return &Response{
		Data:   w.Data,
		Errors: w.Errors,
		Cost: OperationCost{
			RequestedCost:      w.Extensions.Cost.RequestedQueryCost,
			ActualCost:         w.Extensions.Cost.ActualQueryCost,
			MaximumAvailable:   w.Extensions.Cost.ThrottleStatus.MaximumAvailable,
			CurrentlyAvailable: w.Extensions.Cost.ThrottleStatus.CurrentlyAvailable,
			RestoreRate:        w.Extensions.Cost.ThrottleStatus.RestoreRate,
		},
	}
}
