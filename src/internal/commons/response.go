package commons

import "time"

var now = time.Now

// Response is the envelope for every loan API body. Timestamp is the UTC time the
// envelope was built.
type Response[T any] struct {
	Success   bool     `json:"success"`
	Message   string   `json:"message"`
	Data      *T       `json:"data,omitempty"`
	Errors    []string `json:"errors,omitempty"`
	Timestamp string   `json:"timestamp"`
}

func SuccessResponse[T any](message string, data T) Response[T] {
	return Response[T]{
		Success:   true,
		Message:   message,
		Data:      &data,
		Timestamp: stamp(),
	}
}

func ErrorResponse[T any](message string, errors ...string) Response[T] {
	return Response[T]{
		Success:   false,
		Message:   message,
		Errors:    errors,
		Timestamp: stamp(),
	}
}

func stamp() string {
	return now().UTC().Format(time.RFC3339)
}
