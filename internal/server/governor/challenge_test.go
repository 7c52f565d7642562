package governor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dmitrijs2005/pindrop/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPChallengeVerifier(t *testing.T) {
	var gotRemote string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "shh", r.PostForm.Get("secret"))
		gotRemote = r.PostForm.Get("remoteip")
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("response") == "good" {
			_, _ = w.Write([]byte(`{"success":true}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":false,"error-codes":["invalid-input-response"]}`))
	}))
	defer srv.Close()

	v := NewHTTPChallengeVerifier(srv.URL, "shh", time.Second)

	ok, err := v.Verify(context.Background(), "good", "192.0.2.7")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "192.0.2.7", gotRemote)

	ok, err = v.Verify(context.Background(), "bad", common.UnknownOrigin)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, gotRemote)
}

func TestHTTPChallengeVerifier_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	ok, err := NewHTTPChallengeVerifier(srv.URL, "s", time.Second).Verify(context.Background(), "t", "o")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestRejectAllVerifier(t *testing.T) {
	ok, err := RejectAllVerifier{}.Verify(context.Background(), "anything", "o")
	assert.NoError(t, err)
	assert.False(t, ok)
}
