package models

// UserProfile is the denormalized view of the id token's claims captured at login.
type UserProfile struct {
	Username string        `json:"username"`
	Email    string        `json:"email,omitempty"`
	Sub      string        `json:"sub,omitempty"`
	Profile  ProfileDetail `json:"profile"`
}

type ProfileDetail struct {
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	User   UserProfile `json:"user"`
	Tokens TokenSet    `json:"tokens"`
}

// AuthorizeRequest carries what a client needs to start a hosted login.
type AuthorizeRequest struct {
	URL          string `json:"url"`
	State        string `json:"state"`
	CodeVerifier string `json:"code_verifier"`
}
