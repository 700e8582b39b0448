package health

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPChecker probes a URL with GET. Redirects are not followed, so a 3xx
// counts against the accepted range like any other code.
type HTTPChecker struct {
	URL string

	// Accepted status range, inclusive
	StatusMin int
	StatusMax int

	client *resty.Client
}

// NewHTTPChecker creates a checker accepting 200-399
func NewHTTPChecker(url string) *HTTPChecker {
	return &HTTPChecker{
		URL:       url,
		StatusMin: http.StatusOK,
		StatusMax: 399,
		client: resty.New().
			SetTimeout(10 * time.Second).
			SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			})),
	}
}

func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	resp, err := h.client.R().SetContext(ctx).Get(h.URL)
	if resp == nil || resp.RawResponse == nil {
		return finish(start, false, "GET %s: %v", h.URL, err)
	}

	code := resp.StatusCode()
	if code < h.StatusMin || code > h.StatusMax {
		return finish(start, false, "%s answered %d, want %d-%d", h.URL, code, h.StatusMin, h.StatusMax)
	}
	return finish(start, true, "%s answered %d", h.URL, code)
}

func (h *HTTPChecker) Type() CheckType {
	return CheckTypeHTTP
}

func (h *HTTPChecker) Target() string {
	return h.URL
}

// WithStatusRange sets the accepted status codes
func (h *HTTPChecker) WithStatusRange(min, max int) *HTTPChecker {
	h.StatusMin = min
	h.StatusMax = max
	return h
}

// WithTimeout bounds a single attempt
func (h *HTTPChecker) WithTimeout(timeout time.Duration) *HTTPChecker {
	h.client.SetTimeout(timeout)
	return h
}
