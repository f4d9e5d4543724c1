package o11y

import (
	"net/http"
)

// HTTPClient is the subset of http.Client the login flow needs.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

type tracedClient struct {
	HTTPClient
}

// WrapClient traces every outgoing request as a client span. The login
// flow wraps its cookie-jar client with this so the authorize and
// callback hops show up on the trace.
func WrapClient(c HTTPClient) HTTPClient {
	return &tracedClient{HTTPClient: c}
}

func (c *tracedClient) Do(req *http.Request) (res *http.Response, err error) {
	ctx, span := Trace(req.Context(), req.URL.Host, WithSpanKind(SpanKindClient))
	defer func() {
		if err != nil {
			span.RecordError(err)
		} else {
			span.SetMetadata(map[string]any{
				"http.status_code":             res.StatusCode,
				"http.response_content_length": res.ContentLength,
			})
			span.SetStatus(res.StatusCode)
		}
		span.End()
	}()

	span.SetMetadata(map[string]any{
		"http.method":                 req.Method,
		"http.url":                    req.URL.String(),
		"http.path":                   req.URL.Path,
		"http.request_content_length": req.ContentLength,
	})

	return c.HTTPClient.Do(req.WithContext(ctx))
}
