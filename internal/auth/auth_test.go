package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashTokenIsStableAndOpaque(t *testing.T) {
	token := NewToken()
	h := HashToken(token)
	assert.Equal(t, h, HashToken(token))
	assert.Len(t, h, 64)
	assert.NotContains(t, h, token)
}

func TestNewTokensAreUnique(t *testing.T) {
	assert.NotEqual(t, NewToken(), NewToken())
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		name   string
		header string
		want   string
	}{
		{"plain", "Bearer abc123", "abc123"},
		{"lowercase scheme", "bearer abc123", "abc123"},
		{"padded", "Bearer   abc123  ", "abc123"},
		{"missing", "", ""},
		{"wrong scheme", "Basic abc123", ""},
		{"scheme only", "Bearer ", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			assert.Equal(t, tc.want, BearerToken(r))
		})
	}
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("secret", "secret"))
	assert.False(t, Equal("secret", "Secret"))
	assert.False(t, Equal("secret", ""))
}
