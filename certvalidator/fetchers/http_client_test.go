package fetchers

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPClientDefaults(t *testing.T) {
	client, err := NewHTTPClient(nil)
	require.NoError(t, err)
	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok, "unexpected transport %T", client.Transport)
	assert.Equal(t, uint16(tls.VersionTLS12), transport.TLSClientConfig.MinVersion)
	assert.NotNil(t, client.CheckRedirect, "expected a redirect policy")
}

func TestNewHTTPClientProxy(t *testing.T) {
	client, err := NewHTTPClient(&HTTPClientConfig{ProxyURL: "http://proxy.example:3128"})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodGet, "http://crl.example/ca.crl", nil)
	require.NoError(t, err)
	proxy, err := client.Transport.(*http.Transport).Proxy(req)
	require.NoError(t, err)
	require.NotNil(t, proxy)
	assert.Equal(t, "proxy.example:3128", proxy.Host)

	for _, bad := range []string{"://nope", "proxy.example"} {
		_, err := NewHTTPClient(&HTTPClientConfig{ProxyURL: bad})
		assert.Error(t, err, "proxy %q", bad)
	}
}

func TestHTTPClientRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/crl", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte("crl bytes"))
	})
	mux.HandleFunc("/hop/", func(w http.ResponseWriter, req *http.Request) {
		var n int
		fmt.Sscanf(req.URL.Path, "/hop/%d", &n)
		if n == 0 {
			http.Redirect(w, req, "/crl", http.StatusFound)
			return
		}
		http.Redirect(w, req, fmt.Sprintf("/hop/%d", n-1), http.StatusFound)
	})
	mux.HandleFunc("/ftp", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "ftp://crl.example/ca.crl", http.StatusFound)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := NewHTTPClient(&HTTPClientConfig{MaxRedirects: 3})
	require.NoError(t, err)
	fetcher := NewFetcher(&FetcherConfig{HTTPClient: client, Retry: NoRetry()})
	ctx := context.Background()

	data, err := fetcher.Fetch(ctx, server.URL+"/hop/1")
	require.NoError(t, err, "two redirects")
	assert.Equal(t, "crl bytes", string(data))

	_, err = fetcher.Fetch(ctx, server.URL+"/hop/5")
	assert.ErrorIs(t, err, errRedirect, "too many redirects")
	_, err = fetcher.Fetch(ctx, server.URL+"/ftp")
	assert.ErrorIs(t, err, errRedirect, "ftp redirect")
}
