package downstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClient_AllowsRedirect_ExactMatch(t *testing.T) {
	t.Parallel()

	c := Client{ID: "client-1", RedirectURIs: []string{"https://example.com/callback"}}

	assert.True(t, c.allowsRedirect("https://example.com/callback"))
	assert.False(t, c.allowsRedirect("https://example.com/callback/"))
	assert.False(t, c.allowsRedirect("https://evil.example.com/callback"))
}

func TestClient_AllowsRedirect_LoopbackAnyPort(t *testing.T) {
	t.Parallel()

	c := Client{ID: "native-client", RedirectURIs: []string{"http://127.0.0.1:8000/callback"}}

	assert.True(t, c.allowsRedirect("http://127.0.0.1:8000/callback"))
	assert.True(t, c.allowsRedirect("http://127.0.0.1:54321/callback"))
	assert.False(t, c.allowsRedirect("http://localhost:9999/callback"), "loopback match still requires the registered host")
	assert.False(t, c.allowsRedirect("http://127.0.0.1:8000/other"))
	assert.False(t, c.allowsRedirect("https://127.0.0.1:8000/callback"), "loopback match requires the http scheme")
	assert.False(t, c.allowsRedirect("http://10.0.0.1:8000/callback"), "non-loopback hosts must match exactly including port")
}

func TestClient_AllowsRedirect_NoRegisteredURIs(t *testing.T) {
	t.Parallel()

	c := Client{ID: "client-1"}
	assert.False(t, c.allowsRedirect("https://example.com/callback"))
}
