package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// Kind identifies a supported model provider.
type Kind string

const (
	KindOpenAI    Kind = "openai"
	KindGrok      Kind = "grok"
	KindContainer Kind = "container"
)

// Request is one model invocation: role instructions plus the round prompt.
type Request struct {
	Model       string
	Role        string
	Prompt      string
	Temperature float64
	MaxTokens   int
	Tools       []string
}

// ToolCall records one tool invocation reported by the agent.
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Result    string          `json:"result,omitempty"`
}

// Completion is a successful backend response.
type Completion struct {
	Content   string     `json:"content"`
	ToolTrace []ToolCall `json:"tool_trace,omitempty"`
	Model     string     `json:"model,omitempty"`
}

// Backend invokes one configured model provider. Implementations honor the
// context deadline and return an error for every failure mode; the caller
// turns errors into response data.
type Backend interface {
	Kind() Kind
	Invoke(ctx context.Context, req Request) (*Completion, error)
}

// ErrUnknownKind is returned when the configured provider is unsupported.
var ErrUnknownKind = errors.New("unknown backend provider")

// Options carries provider construction inputs. HTTP providers use APIKey
// and BaseURL; the container provider uses Sandbox, BusURL and Image.
type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Sandbox    Sandbox
	BusURL     string
	Image      string
}

// New builds a Backend from a provider tag.
func New(kind Kind, opts Options) (Backend, error) {
	switch Kind(strings.ToLower(string(kind))) {
	case KindOpenAI, "":
		return newOpenAIClient(KindOpenAI, opts), nil
	case KindGrok:
		return newOpenAIClient(KindGrok, opts), nil
	case KindContainer:
		return newContainerBackend(opts)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}

// StatusError is a non-2xx HTTP response from a provider.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.Code, e.Body)
}

// Error classes. Per-agent failures are recorded as data, so the class is a
// plain string carried on the agent response.
const (
	ClassAuth        = "auth"
	ClassRateLimited = "rate_limited"
	ClassUpstream    = "upstream"
	ClassBadResponse = "bad_response"
	ClassNetwork     = "network"
	ClassCancelled   = "cancelled"
	ClassBackend     = "backend"
)

// Classify maps an Invoke error to an error class.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.Canceled) {
		return ClassCancelled
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden:
			return ClassAuth
		case se.Code == http.StatusTooManyRequests:
			return ClassRateLimited
		case se.Code >= 500:
			return ClassUpstream
		default:
			return ClassBadResponse
		}
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return ClassNetwork
	}

	return ClassBackend
}

func defaultHTTPClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	// Per-call deadlines come from the context; the transport timeout is a
	// backstop against connections that never progress.
	return &http.Client{Timeout: 10 * time.Minute}
}
