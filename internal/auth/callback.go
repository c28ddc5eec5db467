package auth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Payload is the state round-tripped through an OpenID login, encoded as
// base64url JSON in the callback path.
type Payload struct {
	Server      string `json:"server" validate:"required,url"`
	AuthType    string `json:"authType" validate:"required"`
	RedirectURL string `json:"redirectURL,omitempty"`
}

// TokenResponse is the token object appended to the callback URL by the server.
type TokenResponse struct {
	AccessToken string `json:"access_token" validate:"required"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"` // seconds
}

// PayloadError reports a callback segment that could not be decoded.
type PayloadError struct {
	Part string // "payload" or "token"
	Err  error
}

func (e *PayloadError) Error() string {
	return "invalid authentication " + e.Part + ": " + e.Err.Error()
}

func (e *PayloadError) Unwrap() error {
	return e.Err
}

// EncodePayload returns p as unpadded base64url JSON.
func EncodePayload(p Payload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodePayload parses and validates a base64url JSON payload. Padded and
// unpadded encodings are both accepted.
func DecodePayload(s string) (Payload, error) {
	var p Payload
	data, err := decodeBase64URL(s)
	if err != nil {
		return p, &PayloadError{Part: "payload", Err: err}
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, &PayloadError{Part: "payload", Err: err}
	}
	if err := validate.Struct(p); err != nil {
		return p, &PayloadError{Part: "payload", Err: err}
	}
	return p, nil
}

// DecodeToken parses a token segment that is either URI-encoded JSON or
// base64url JSON.
func DecodeToken(s string) (TokenResponse, error) {
	var tok TokenResponse

	raw := s
	if unescaped, err := url.PathUnescape(s); err == nil {
		raw = unescaped
	}
	if strings.HasPrefix(strings.TrimSpace(raw), "{") {
		if err := json.Unmarshal([]byte(raw), &tok); err != nil {
			return tok, &PayloadError{Part: "token", Err: err}
		}
	} else {
		data, err := decodeBase64URL(s)
		if err != nil {
			return tok, &PayloadError{Part: "token", Err: err}
		}
		if err := json.Unmarshal(data, &tok); err != nil {
			return tok, &PayloadError{Part: "token", Err: err}
		}
	}
	if err := validate.Struct(tok); err != nil {
		return tok, &PayloadError{Part: "token", Err: err}
	}
	return tok, nil
}

// TokenCredentials combines a decoded payload and token into Token
// credentials. The expiry is computed from ExpiresIn relative to now.
func TokenCredentials(p Payload, tok TokenResponse, now time.Time) (Token, error) {
	method, provider := SplitAuthType(p.AuthType)
	switch method {
	case MethodOpenID, MethodPortier, MethodFxA:
	default:
		return Token{}, fmt.Errorf("%w: %q", ErrUnsupportedAuthType, p.AuthType)
	}
	if method == MethodOpenID && provider == "" {
		return Token{}, ErrMissingProvider
	}
	t := Token{
		Server:    p.Server,
		Type:      method,
		Provider:  provider,
		TokenType: tok.TokenType,
		Token:     tok.AccessToken,
	}
	if t.TokenType == "" {
		t.TokenType = "Bearer"
	}
	if tok.ExpiresIn > 0 {
		exp := now.Add(time.Duration(tok.ExpiresIn) * time.Second)
		t.ExpiresAt = &exp
	}
	return t, nil
}

// LoginURL returns the server endpoint starting an OpenID login for provider.
// The server redirects to callback with the token appended.
func LoginURL(server, provider, callback string) string {
	q := url.Values{}
	q.Set("callback", callback)
	q.Set("scope", "openid email")
	return strings.TrimRight(server, "/") + "/openid/" + url.PathEscape(provider) + "/login?" + q.Encode()
}

func decodeBase64URL(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	return base64.RawURLEncoding.DecodeString(s)
}
