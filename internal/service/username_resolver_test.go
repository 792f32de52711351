package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUsernameResolver_Resolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("email") {
		case "alice@example.com":
			w.Write([]byte(`{"username":"alice"}`))
		case "blank@example.com":
			w.Write([]byte(`{"username":""}`))
		case "bad@example.com":
			w.Write([]byte(`not json`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	resolver := NewUsernameResolver(srv.URL+"/lookup?source=web", nil, testLogger())
	ctx := context.Background()

	assert.Equal(t, "alice", resolver.Resolve(ctx, "alice@example.com"))
	assert.Equal(t, "blank@example.com", resolver.Resolve(ctx, "blank@example.com"))
	assert.Equal(t, "bad@example.com", resolver.Resolve(ctx, "bad@example.com"))
	assert.Equal(t, "nobody@example.com", resolver.Resolve(ctx, "nobody@example.com"))
}

func TestUsernameResolver_FallsBackToIdentifier(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, "alice", NewUsernameResolver("", nil, testLogger()).Resolve(ctx, "alice"))

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	assert.Equal(t, "alice@example.com", NewUsernameResolver(url, nil, testLogger()).Resolve(ctx, "alice@example.com"))
}
