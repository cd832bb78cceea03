package backend

import "fmt"

// TransportError is a network failure reaching the backend proxy.
type TransportError struct {
	BaseURL string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("Network error: %v. Is the backend running at %s?", e.Err, e.BaseURL)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ConfigureError is a non-2xx answer to the configure call.
type ConfigureError struct {
	StatusCode int
	Detail     string
}

func (e *ConfigureError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return "Failed to configure LLM"
}

// StreamOpenError is a non-2xx answer to the streaming call.
type StreamOpenError struct {
	StatusCode int
	Detail     string
}

func (e *StreamOpenError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("Failed to get streaming response: %s", e.Detail)
	}
	return "Failed to get streaming response"
}
