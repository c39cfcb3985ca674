package completion

import (
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

type Kind int

const (
	// Terminal failures are not retried: bad request, bad credentials and
	// other client errors.
	Terminal Kind = iota + 1
	// Exhausted means every allowed attempt failed with a retryable error.
	Exhausted
)

func (k Kind) String() string {
	switch k {
	case Terminal:
		return "terminal"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// ClientError is returned by Execute for every failed call.
type ClientError struct {
	Kind       Kind
	Attempts   int
	StatusCode int // 0 for transport failures
	Err        error
}

func (e *ClientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("completion %s after %d attempt(s): status %d: %v", e.Kind, e.Attempts, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("completion %s after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

func (e *ClientError) Unwrap() error { return e.Err }

// IsTerminal reports whether err is a non-retryable ClientError.
func IsTerminal(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce) && ce.Kind == Terminal
}

// failure is the classified result of one attempt.
type failure struct {
	status    int
	code      string
	message   string
	retryable bool
}

func classify(err error) failure {
	var (
		apiErr *openai.APIError
		reqErr *openai.RequestError
		f      failure
	)
	switch {
	case errors.As(err, &apiErr):
		f.status = apiErr.HTTPStatusCode
		f.message = apiErr.Message
		if apiErr.Code != nil {
			f.code = fmt.Sprint(apiErr.Code)
		}
	case errors.As(err, &reqErr):
		f.status = reqErr.HTTPStatusCode
		f.message = reqErr.Error()
	default:
		f.message = err.Error()
	}
	f.retryable = retryableStatus(f.status)
	return f
}

// retryableStatus: 0 (network, timeout), 429 and 5xx retry; 400, 401 and
// every other status stop immediately.
func retryableStatus(status int) bool {
	switch {
	case status == 0:
		return true
	case status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	default:
		return false
	}
}
