package auth_test

import (
	"encoding/base64"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/fakeyudi/kintoadm/internal/auth"
)

// Feature: kintoadm, Property 4: openid-<provider> normalizes to openid + provider
func TestOpenIDProviderNormalization(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		provider := rapid.StringMatching(`[a-z][a-z0-9_-]{0,15}`).Draw(t, "provider")

		c, err := auth.FromRecord(auth.Record{
			Server:      "http://localhost:8888/v1",
			AuthType:    "openid-" + provider,
			Credentials: &auth.RecordCreds{Token: "tok"},
		})
		if err != nil {
			t.Fatalf("FromRecord: %v", err)
		}
		tok, ok := c.(auth.Token)
		if !ok {
			t.Fatalf("expected Token credentials, got %T", c)
		}
		if tok.Method() != auth.MethodOpenID {
			t.Fatalf("Method: got %q, want %q", tok.Method(), auth.MethodOpenID)
		}
		if tok.Provider != provider {
			t.Fatalf("Provider: got %q, want %q", tok.Provider, provider)
		}
		rec := auth.ToRecord(c)
		if rec.AuthType != auth.MethodOpenID || rec.Provider != provider {
			t.Fatalf("ToRecord: got authType=%q provider=%q", rec.AuthType, rec.Provider)
		}
	})
}

func TestFromRecordVariants(t *testing.T) {
	server := "http://localhost:8888/v1"

	c, err := auth.FromRecord(auth.Record{Server: server, AuthType: "anonymous"})
	require.NoError(t, err)
	assert.Equal(t, auth.Anonymous{Server: server}, c)

	for _, m := range []string{auth.MethodBasicAuth, auth.MethodAccounts, auth.MethodLDAP} {
		c, err = auth.FromRecord(auth.Record{
			Server:      server,
			AuthType:    m,
			Credentials: &auth.RecordCreds{Username: "alice", Password: "s3cret"},
		})
		require.NoError(t, err)
		assert.Equal(t, auth.Basic{Server: server, Type: m, Username: "alice", Password: "s3cret"}, c)
	}

	c, err = auth.FromRecord(auth.Record{
		Server:      server,
		AuthType:    "portier",
		Credentials: &auth.RecordCreds{Token: "abc"},
		ExpiresAt:   1_700_000_000_000,
	})
	require.NoError(t, err)
	tok := c.(auth.Token)
	assert.Equal(t, "Bearer", tok.TokenType)
	require.NotNil(t, tok.ExpiresAt)
	assert.Equal(t, int64(1_700_000_000_000), tok.ExpiresAt.UnixMilli())
}

func TestFromRecordErrors(t *testing.T) {
	_, err := auth.FromRecord(auth.Record{AuthType: "basicauth"})
	assert.ErrorIs(t, err, auth.ErrMissingServer)

	_, err = auth.FromRecord(auth.Record{Server: "http://s/v1", AuthType: "kerberos"})
	assert.ErrorIs(t, err, auth.ErrUnsupportedAuthType)

	_, err = auth.FromRecord(auth.Record{Server: "http://s/v1", AuthType: "openid"})
	assert.ErrorIs(t, err, auth.ErrMissingProvider)
}

func TestRecordRoundTrip(t *testing.T) {
	exp := time.UnixMilli(1_800_000_000_000)
	in := auth.Token{
		Server:    "http://s/v1",
		Type:      auth.MethodOpenID,
		Provider:  "google",
		TokenType: "Bearer",
		Token:     "tok",
		ExpiresAt: &exp,
	}
	out, err := auth.FromRecord(auth.ToRecord(in))
	require.NoError(t, err)
	got := out.(auth.Token)
	assert.Equal(t, in.Provider, got.Provider)
	assert.Equal(t, in.Token, got.Token)
	assert.True(t, in.ExpiresAt.Equal(*got.ExpiresAt))
}

func TestExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.True(t, auth.Expired(auth.Token{ExpiresAt: &past}, now))
	assert.False(t, auth.Expired(auth.Token{ExpiresAt: &future}, now))
	assert.False(t, auth.Expired(auth.Token{}, now))
	assert.False(t, auth.Expired(auth.Basic{}, now))
	assert.False(t, auth.Expired(auth.Anonymous{}, now))
}

func TestDisplay(t *testing.T) {
	assert.Equal(t, "anonymous", auth.Display(auth.Anonymous{}))
	assert.Equal(t, "ldap as bob", auth.Display(auth.Basic{Type: "ldap", Username: "bob"}))
	assert.Equal(t, "openid (google)", auth.Display(auth.Token{Type: "openid", Provider: "google"}))
}

func TestDecodePayload(t *testing.T) {
	enc, err := auth.EncodePayload(auth.Payload{
		Server:      "http://localhost:8888/v1",
		AuthType:    "openid-google",
		RedirectURL: "/buckets/main",
	})
	require.NoError(t, err)

	p, err := auth.DecodePayload(enc)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8888/v1", p.Server)
	assert.Equal(t, "openid-google", p.AuthType)
	assert.Equal(t, "/buckets/main", p.RedirectURL)

	// Padded variant.
	padded := base64.URLEncoding.EncodeToString([]byte(`{"server":"http://s/v1","authType":"openid-x"}`))
	_, err = auth.DecodePayload(padded)
	require.NoError(t, err)
}

func TestDecodePayloadInvalid(t *testing.T) {
	cases := map[string]string{
		"not base64":     "%%%",
		"not json":       base64.RawURLEncoding.EncodeToString([]byte("nope")),
		"missing server": base64.RawURLEncoding.EncodeToString([]byte(`{"authType":"openid-x"}`)),
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := auth.DecodePayload(in)
			require.Error(t, err)
			var perr *auth.PayloadError
			assert.True(t, errors.As(err, &perr))
			assert.Equal(t, "payload", perr.Part)
		})
	}
}

func TestDecodeTokenEncodings(t *testing.T) {
	raw := `{"access_token":"abc","token_type":"Bearer","expires_in":3600}`

	fromURI, err := auth.DecodeToken(url.PathEscape(raw))
	require.NoError(t, err)
	fromB64, err := auth.DecodeToken(base64.RawURLEncoding.EncodeToString([]byte(raw)))
	require.NoError(t, err)

	want := auth.TokenResponse{AccessToken: "abc", TokenType: "Bearer", ExpiresIn: 3600}
	assert.Equal(t, want, fromURI)
	assert.Equal(t, want, fromB64)

	_, err = auth.DecodeToken(url.PathEscape(`{"token_type":"Bearer"}`))
	assert.Error(t, err)
}

func TestTokenCredentials(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tok, err := auth.TokenCredentials(
		auth.Payload{Server: "http://s/v1", AuthType: "openid-google"},
		auth.TokenResponse{AccessToken: "abc", ExpiresIn: 60},
		now,
	)
	require.NoError(t, err)
	assert.Equal(t, "google", tok.Provider)
	assert.Equal(t, "Bearer", tok.TokenType)
	require.NotNil(t, tok.ExpiresAt)
	assert.Equal(t, now.Add(time.Minute), *tok.ExpiresAt)

	_, err = auth.TokenCredentials(auth.Payload{Server: "http://s/v1", AuthType: "basicauth"}, auth.TokenResponse{AccessToken: "x"}, now)
	assert.ErrorIs(t, err, auth.ErrUnsupportedAuthType)
}

func TestLoginURL(t *testing.T) {
	got := auth.LoginURL("http://s/v1/", "google", "http://127.0.0.1:9999/auth/xyz/")
	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "/v1/openid/google/login", u.Path)
	assert.Equal(t, "http://127.0.0.1:9999/auth/xyz/", u.Query().Get("callback"))
	assert.Equal(t, "openid email", u.Query().Get("scope"))
}
