package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenSet_UnmarshalLegacyNames(t *testing.T) {
	var tokens TokenSet
	require.NoError(t, json.Unmarshal([]byte(`{"access_token":"a","id_token":"i","refresh_token":"r"}`), &tokens))
	assert.Equal(t, TokenSet{IDToken: "i", AccessToken: "a", RefreshToken: "r"}, tokens)
}

func TestTokenSet_CanonicalNamesWin(t *testing.T) {
	var tokens TokenSet
	require.NoError(t, json.Unmarshal([]byte(`{"accessToken":"new","access_token":"old"}`), &tokens))
	assert.Equal(t, "new", tokens.AccessToken)
}

func TestTokenSet_Bearer(t *testing.T) {
	var nilSet *TokenSet
	assert.Empty(t, nilSet.Bearer())
	assert.True(t, nilSet.IsEmpty())

	assert.Equal(t, "a", (&TokenSet{AccessToken: "a", IDToken: "i"}).Bearer())
	assert.Equal(t, "i", (&TokenSet{IDToken: "i"}).Bearer())
	assert.True(t, (&TokenSet{RefreshToken: "r"}).IsEmpty())
}
