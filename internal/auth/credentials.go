// Package auth models the authentication methods a Kinto server accepts.
//
// Credentials is a closed sum type: Anonymous, Basic or Token. The JSON wire
// form persisted on disk and exchanged with the OpenID callback is Record;
// FromRecord and ToRecord convert between the two.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Auth method names as understood by the server.
const (
	MethodAnonymous = "anonymous"
	MethodBasicAuth = "basicauth"
	MethodAccounts  = "accounts"
	MethodLDAP      = "ldap"
	MethodOpenID    = "openid"
	MethodPortier   = "portier"
	MethodFxA       = "fxa"
)

var (
	// ErrUnsupportedAuthType is returned for auth types this client cannot speak.
	ErrUnsupportedAuthType = errors.New("unsupported auth type")
	// ErrMissingServer is returned when credentials carry no server URL.
	ErrMissingServer = errors.New("server URL is required")
	// ErrMissingProvider is returned for openid credentials without a provider.
	ErrMissingProvider = errors.New("openid provider is required")
)

// Credentials is one of Anonymous, Basic or Token.
type Credentials interface {
	// ServerURL is the server the credentials apply to.
	ServerURL() string
	// Method is the normalized auth type ("basicauth", "openid", ...).
	Method() string
	isCredentials()
}

// Anonymous sends no Authorization header.
type Anonymous struct {
	Server string
}

// Basic covers every method authenticated with username/password.
type Basic struct {
	Server   string
	Type     string // basicauth, accounts or ldap
	Username string
	Password string
}

// Token covers bearer-style methods (openid, portier, fxa).
type Token struct {
	Server    string
	Type      string // openid, portier or fxa
	Provider  string // openid provider id
	TokenType string // e.g. "Bearer"
	Token     string
	ExpiresAt *time.Time
}

func (Anonymous) isCredentials() {}
func (Basic) isCredentials()     {}
func (Token) isCredentials()     {}

func (a Anonymous) ServerURL() string { return a.Server }
func (b Basic) ServerURL() string     { return b.Server }
func (t Token) ServerURL() string     { return t.Server }

func (Anonymous) Method() string { return MethodAnonymous }
func (b Basic) Method() string   { return b.Type }
func (t Token) Method() string   { return t.Type }

// Expired reports whether t carries an expiry at or before now.
func (t Token) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// Expired reports whether c is a token past its expiry. Credentials without
// an expiry never expire.
func Expired(c Credentials, now time.Time) bool {
	switch v := c.(type) {
	case Token:
		return v.Expired(now)
	case Anonymous, Basic:
		return false
	default:
		panic(fmt.Sprintf("auth: unknown credentials type %T", c))
	}
}

// Display returns a short human description, e.g. "basicauth as alice".
func Display(c Credentials) string {
	switch v := c.(type) {
	case Anonymous:
		return MethodAnonymous
	case Basic:
		return v.Type + " as " + v.Username
	case Token:
		if v.Provider != "" {
			return v.Type + " (" + v.Provider + ")"
		}
		return v.Type
	default:
		panic(fmt.Sprintf("auth: unknown credentials type %T", c))
	}
}

// SplitAuthType splits a provider-prefixed auth type such as
// "openid-google" into ("openid", "google"). Other values are returned
// unchanged with an empty provider.
func SplitAuthType(authType string) (method, provider string) {
	if rest, ok := strings.CutPrefix(authType, MethodOpenID+"-"); ok && rest != "" {
		return MethodOpenID, rest
	}
	return authType, ""
}

// Record is the JSON wire form of Credentials.
type Record struct {
	Server      string       `json:"server" validate:"required,url"`
	AuthType    string       `json:"authType" validate:"required"`
	Provider    string       `json:"provider,omitempty"`
	TokenType   string       `json:"tokenType,omitempty"`
	Credentials *RecordCreds `json:"credentials,omitempty"`
	ExpiresAt   int64        `json:"expiresAt,omitempty"` // unix milliseconds
}

// RecordCreds holds the secret part of a Record.
type RecordCreds struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
}

// FromRecord normalizes r into Credentials. Provider-prefixed auth types are
// split so that "openid-google" yields a Token of Type "openid" with
// Provider "google".
func FromRecord(r Record) (Credentials, error) {
	if r.Server == "" {
		return nil, ErrMissingServer
	}
	method, provider := SplitAuthType(r.AuthType)
	if provider == "" {
		provider = r.Provider
	}
	creds := RecordCreds{}
	if r.Credentials != nil {
		creds = *r.Credentials
	}

	switch method {
	case MethodAnonymous, "":
		return Anonymous{Server: r.Server}, nil
	case MethodBasicAuth, MethodAccounts, MethodLDAP:
		return Basic{
			Server:   r.Server,
			Type:     method,
			Username: creds.Username,
			Password: creds.Password,
		}, nil
	case MethodOpenID, MethodPortier, MethodFxA:
		if method == MethodOpenID && provider == "" {
			return nil, ErrMissingProvider
		}
		t := Token{
			Server:    r.Server,
			Type:      method,
			Provider:  provider,
			TokenType: r.TokenType,
			Token:     creds.Token,
		}
		if t.TokenType == "" {
			t.TokenType = "Bearer"
		}
		if r.ExpiresAt > 0 {
			exp := time.UnixMilli(r.ExpiresAt)
			t.ExpiresAt = &exp
		}
		return t, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAuthType, r.AuthType)
	}
}

// ToRecord returns the wire form of c.
func ToRecord(c Credentials) Record {
	switch v := c.(type) {
	case Anonymous:
		return Record{Server: v.Server, AuthType: MethodAnonymous}
	case Basic:
		return Record{
			Server:      v.Server,
			AuthType:    v.Type,
			Credentials: &RecordCreds{Username: v.Username, Password: v.Password},
		}
	case Token:
		r := Record{
			Server:      v.Server,
			AuthType:    v.Type,
			Provider:    v.Provider,
			TokenType:   v.TokenType,
			Credentials: &RecordCreds{Token: v.Token},
		}
		if v.ExpiresAt != nil {
			r.ExpiresAt = v.ExpiresAt.UnixMilli()
		}
		return r
	default:
		panic(fmt.Sprintf("auth: unknown credentials type %T", c))
	}
}
