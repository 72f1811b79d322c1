package network

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchFollowsRedirectPreservingMethod(t *testing.T) {
	var finalMethod string
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		finalMethod = r.Method
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "done")
	}))
	defer target.Close()

	redirector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusTemporaryRedirect)
	}))
	defer redirector.Close()

	policy := NewPolicy([]string{"*"}, nil)
	f := NewFetcher(policy)
	resp, err := f.Do(Request{Method: http.MethodPut, URL: redirector.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "done", string(resp.Body))
	assert.Equal(t, http.MethodPut, finalMethod)
}

func TestFetch303BecomesGetWithoutBody(t *testing.T) {
	var finalMethod string
	var hadBody bool
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		finalMethod = r.Method
		b, _ := io.ReadAll(r.Body)
		hadBody = len(b) > 0
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	redirector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusSeeOther)
	}))
	defer redirector.Close()

	policy := NewPolicy([]string{"*"}, nil)
	f := NewFetcher(policy)
	_, err := f.Do(Request{Method: http.MethodPost, URL: redirector.URL, Body: []byte("payload")})
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, finalMethod)
	assert.False(t, hadBody)
}

func TestFetchDeniedHostNeverDials(t *testing.T) {
	policy := NewPolicy(nil, nil)
	f := NewFetcher(policy)
	_, err := f.Do(Request{Method: http.MethodGet, URL: "http://blocked.example.com/"})
	require.ErrorIs(t, err, ErrCapabilityDenied)
}

func TestFetchRedirectToDeniedHostFails(t *testing.T) {
	redirector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://blocked.example.com/", http.StatusFound)
	}))
	defer redirector.Close()

	redirURL, err := url.Parse(redirector.URL)
	require.NoError(t, err)
	policy := NewPolicy([]string{redirURL.Hostname()}, nil)
	f := NewFetcher(policy)
	_, err = f.Do(Request{Method: http.MethodGet, URL: redirector.URL})
	require.ErrorIs(t, err, ErrCapabilityDenied)
}
