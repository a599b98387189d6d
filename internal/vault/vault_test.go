package vault

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want error
	}{
		{"valid", "AIzaSyA1234567890_abc-def", nil},
		{"minimum length", strings.Repeat("a", 20), nil},
		{"maximum length", strings.Repeat("a", 100), nil},
		{"too short", strings.Repeat("a", 19), ErrKeyTooShort},
		{"too long", strings.Repeat("a", 101), ErrKeyTooLong},
		{"spaces", "AIzaSy 1234567890abcdef", ErrKeyBadCharset},
		{"symbols", "AIzaSy!1234567890abcdef", ErrKeyBadCharset},
		{"empty", "", ErrKeyTooShort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestStore(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody storeRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(storeResponse{Reference: "ref/v1"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "vault-token")
	ref, err := client.Store(context.Background(), "dep-1", strings.Repeat("k", 39))
	require.NoError(t, err)

	assert.Equal(t, "ref/v1", ref)
	assert.Equal(t, "/v1/secrets/gemini-api-key-dep-1", gotPath)
	assert.Equal(t, "Bearer vault-token", gotAuth)
	assert.Equal(t, strings.Repeat("k", 39), gotBody.Value)
}

func TestStoreDefaultReference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "t")
	ref, err := client.Store(context.Background(), "dep-2", strings.Repeat("k", 30))
	require.NoError(t, err)
	assert.Equal(t, "gemini-api-key-dep-2/versions/latest", ref)
}

func TestStoreRejectsInvalidKeyBeforeHTTP(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "t")
	_, err := client.Store(context.Background(), "dep-3", "short")
	assert.ErrorIs(t, err, ErrKeyTooShort)
	assert.False(t, called)
}

func TestDestroyToleratesMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "t")
	assert.NoError(t, client.Destroy(context.Background(), "dep-gone"))
}

func TestDestroySurfacesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "t")
	assert.Error(t, client.Destroy(context.Background(), "dep-err"))
}
