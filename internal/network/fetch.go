package network

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// MaxRedirects bounds the manual redirect loop (spec.md §4.7).
const MaxRedirects = 5

// ErrCapabilityDenied is returned when the host policy rejects the
// initial URL or any hop along a redirect chain.
var ErrCapabilityDenied = errors.New("network: host not permitted")

// Request is a synchronous fetch request, the shape carried across the
// network bridge channel's "fetchSync" op.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	Timeout time.Duration
}

// Response is what the fetch worker hands back across the bridge.
type Response struct {
	Status  int
	Headers map[string][]string
	Body    []byte
}

// Fetcher performs policy-checked, manually-redirected HTTP requests. It
// disables the stdlib client's own redirect following (CheckRedirect
// returns ErrUseLastResponse) so every hop can be re-checked against the
// Policy, per spec.md §4.7.
type Fetcher struct {
	policy *Policy
	client *http.Client
}

// NewFetcher builds a fetcher bound to policy.
func NewFetcher(policy *Policy) *Fetcher {
	return &Fetcher{
		policy: policy,
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Do performs req, following redirects manually up to MaxRedirects hops,
// re-checking the host policy at every hop.
func (f *Fetcher) Do(req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	body := req.Body
	currentURL := req.URL

	for hop := 0; ; hop++ {
		u, err := url.Parse(currentURL)
		if err != nil {
			return nil, fmt.Errorf("network: invalid url %q: %w", currentURL, err)
		}
		if f.policy.Check(u.Hostname()) != Allowed {
			return nil, ErrCapabilityDenied
		}

		httpReq, err := http.NewRequest(method, currentURL, bodyReader(body))
		if err != nil {
			return nil, err
		}
		for k, v := range req.Headers {
			httpReq.Header.Set(k, v)
		}
		if req.Timeout > 0 {
			// timeout is enforced by the bridge channel's own context
			// deadline; the client has no separate timeout to avoid a
			// double-timeout race.
			_ = req.Timeout
		}

		resp, err := f.client.Do(httpReq)
		if err != nil {
			return nil, err
		}

		if isRedirect(resp.StatusCode) {
			loc := resp.Header.Get("Location")
			resp.Body.Close()
			if loc == "" {
				return nil, fmt.Errorf("network: redirect with no Location header")
			}
			if hop >= MaxRedirects {
				return nil, fmt.Errorf("network: exceeded %d redirects", MaxRedirects)
			}
			next, err := u.Parse(loc)
			if err != nil {
				return nil, fmt.Errorf("network: invalid redirect location %q: %w", loc, err)
			}
			currentURL = next.String()

			switch resp.StatusCode {
			case http.StatusSeeOther:
				// 303: always becomes GET with no body.
				method = http.MethodGet
				body = nil
			case http.StatusMovedPermanently, http.StatusFound, http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
				// method and body are preserved.
			}
			continue
		}

		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		return &Response{
			Status:  resp.StatusCode,
			Headers: map[string][]string(resp.Header),
			Body:    data,
		}, nil
	}
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}

func bodyReader(b []byte) io.Reader {
	if b == nil {
		return nil
	}
	return bytes.NewReader(b)
}
