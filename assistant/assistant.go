package assistant

import (
	"context"
	"fmt"
	"net/http"
)

// FallbackAnswer is sent to the child when no backend could answer
const FallbackAnswer = "I'm sorry, I couldn't process your question. Please try again."

// Answerer produces an educational answer for a question
type Answerer interface {
	Answer(ctx context.Context, question string) (string, error)
}

// HTTPClient http client interface for API calls
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIError is returned when the answer API responds with a non-2xx status
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: %d", e.StatusCode)
}
