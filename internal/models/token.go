package models

import "encoding/json"

// TokenSet is the session's credential triple as issued by the identity provider.
type TokenSet struct {
	IDToken      string `json:"idToken"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// tokenSetWire accepts both the canonical and the snake_case field names
// older clients persisted.
type tokenSetWire struct {
	IDToken           string `json:"idToken"`
	AccessToken       string `json:"accessToken"`
	RefreshToken      string `json:"refreshToken"`
	LegacyIDToken     string `json:"id_token"`
	LegacyAccessToken string `json:"access_token"`
	LegacyRefresh     string `json:"refresh_token"`
}

func (t *TokenSet) UnmarshalJSON(data []byte) error {
	var wire tokenSetWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	*t = TokenSet{
		IDToken:      firstNonEmpty(wire.IDToken, wire.LegacyIDToken),
		AccessToken:  firstNonEmpty(wire.AccessToken, wire.LegacyAccessToken),
		RefreshToken: firstNonEmpty(wire.RefreshToken, wire.LegacyRefresh),
	}
	return nil
}

// IsEmpty reports whether no bearer-capable token is held.
func (t *TokenSet) IsEmpty() bool {
	return t == nil || (t.AccessToken == "" && t.IDToken == "")
}

// Bearer returns the access token, falling back to the id token.
func (t *TokenSet) Bearer() string {
	if t == nil {
		return ""
	}
	return firstNonEmpty(t.AccessToken, t.IDToken)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
