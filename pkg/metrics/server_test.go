package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandler(t *testing.T) {
	h := NewHandler()

	for _, path := range []string{"/metrics", "/healthz"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rr.Code, path)
	}
}

func TestServer(t *testing.T) {
	s, err := NewServer("127.0.0.1:0")
	require.Nil(t, err)

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.Nil(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Empty(t, s.Stop().Wait())

	_, err = NewServer("256.0.0.1:0")
	require.NotNil(t, err)
}
