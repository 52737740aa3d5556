package friday

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// ClientOption configures a Client at construction.
type ClientOption func(*Client)

// WithBaseURL points the client at a gateway. Defaults to localhost.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = url }
}

// WithAPIKey sets the bearer token sent with every request.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient substitutes the transport. Avoid setting Timeout on it;
// streams are bounded by the server, not the transport.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger routes the client's diagnostics.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithTracer injects an OpenTelemetry tracer for submit spans.
func WithTracer(t trace.Tracer) ClientOption {
	return func(c *Client) { c.tracer = t }
}

// WithTypingInterval sets the reveal cadence for animated text.
func WithTypingInterval(d time.Duration) ClientOption {
	return func(c *Client) { c.typingInterval = d }
}

// WithTickerFactory substitutes the animation clock. Tests use this to
// drive reveals deterministically.
func WithTickerFactory(f TickerFactory) ClientOption {
	return func(c *Client) { c.newTicker = f }
}
