package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fakeyudi/kintoadm/internal/auth"
	"github.com/fakeyudi/kintoadm/internal/callback"
)

// executeCommand runs a cobra command with the given args and captures combined output.
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)
	_, err = root.ExecuteC()
	return buf.String(), err
}

// isolate points every XDG directory and the working directory at temp dirs
// and clears flag values left over from earlier executions.
func isolate(t *testing.T) {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("XDG_DATA_HOME", tmp+"/data")
	t.Setenv("XDG_STATE_HOME", tmp+"/state")
	t.Setenv("XDG_CONFIG_HOME", tmp+"/config")
	for _, k := range []string{"KINTOADM_SERVER", "KINTOADM_AUTH_TYPE", "KINTOADM_LOG_LEVEL", "KINTOADM_TIMEOUT", "KINTOADM_RATE_LIMIT"} {
		t.Setenv(k, "")
	}
	t.Chdir(tmp)
	t.Cleanup(resetFlags)
	resetFlags()
}

func resetFlags() {
	outputFormat = "markdown"
	verbose = false
	loginServer, loginAuthType, loginUser, loginPassword, loginToken = "", "", "", "", ""
	historyAll, historyMaxPages = false, 0
	signoffComment = ""
}

// fakeKinto is a minimal Kinto server: one user, a two-page bucket history
// and one signed collection main-workspace/cfr published to main/cfr.
type fakeKinto struct {
	mu      sync.Mutex
	srv     *httptest.Server
	status  string
	patches []map[string]any
}

func newFakeKinto(t *testing.T) *fakeKinto {
	t.Helper()
	f := &fakeKinto{status: "to-review"}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeKinto) URL() string {
	return f.srv.URL + "/v1"
}

func (f *fakeKinto) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	user, pass, ok := r.BasicAuth()
	authed := ok && user == "alice" && pass == "s3cret"
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.URL.Path == "/v1/":
		info := map[string]any{
			"project_name":    "kinto",
			"project_version": "19.0.0",
			"url":             f.URL() + "/",
			"capabilities": map[string]any{
				"history":              map[string]any{},
				"permissions_endpoint": map[string]any{},
				"signer": map[string]any{
					"resources": []map[string]any{{
						"source":      map[string]any{"bucket": "main-workspace", "collection": "cfr"},
						"destination": map[string]any{"bucket": "main", "collection": "cfr"},
					}},
				},
			},
		}
		if authed {
			info["user"] = map[string]any{"id": "account:alice", "principals": []string{"account:alice", "system.Authenticated"}}
		}
		writeJSON(w, info)

	case !authed:
		w.WriteHeader(http.StatusUnauthorized)
		writeJSON(w, map[string]any{"errno": 104, "message": "Please authenticate yourself to use this endpoint."})

	case r.URL.Path == "/v1/permissions":
		writeJSON(w, map[string]any{"data": []map[string]any{
			{"id": "main-workspace", "uri": "/buckets/main-workspace", "resource_name": "bucket", "permissions": []string{"read", "write"}},
		}})

	case r.URL.Path == "/v1/buckets/main/history":
		w.Header().Set("Total-Records", "3")
		if r.URL.Query().Get("page") == "2" {
			writeJSON(w, map[string]any{"data": []map[string]any{
				{"id": "h3", "action": "create", "resource_name": "record", "record_id": "rec-3", "user_id": "account:bob", "date": "2026-01-01T10:00:00"},
			}})
			return
		}
		w.Header().Set("Next-Page", f.srv.URL+"/v1/buckets/main/history?collection_id=cfr&page=2")
		writeJSON(w, map[string]any{"data": []map[string]any{
			{"id": "h1", "action": "update", "resource_name": "record", "record_id": "rec-1", "user_id": "account:alice", "date": "2026-01-02T10:00:00"},
			{"id": "h2", "action": "delete", "resource_name": "record", "record_id": "rec-2", "user_id": "account:alice", "date": "2026-01-01T12:00:00"},
		}})

	case r.URL.Path == "/v1/buckets/main-workspace/collections/cfr":
		if r.Method == http.MethodPatch {
			var body struct {
				Data map[string]any `json:"data"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.patches = append(f.patches, body.Data)
			if s, ok := body.Data["status"].(string); ok {
				f.status = s
			}
		}
		writeJSON(w, map[string]any{"data": map[string]any{"id": "cfr", "last_modified": 200, "status": f.status}})

	case r.URL.Path == "/v1/buckets/main/collections/cfr/records" && r.Method == http.MethodHead:
		w.Header().Set("ETag", `"100"`)

	case r.URL.Path == "/v1/buckets/main-workspace/collections/cfr/records":
		writeJSON(w, map[string]any{"data": []map[string]any{
			{"id": "rec-1", "last_modified": 150},
			{"id": "rec-2", "last_modified": 160, "deleted": true},
		}})

	default:
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]any{"errno": 111, "message": "not found"})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	_ = json.NewEncoder(w).Encode(v)
}

func login(t *testing.T, f *fakeKinto) {
	t.Helper()
	out, err := executeCommand(rootCmd, "login", "--server", f.URL(), "--auth", "accounts", "--user", "alice", "--password", "s3cret")
	require.NoError(t, err, out)
	resetFlags()
}

func TestLoginStatusLogout(t *testing.T) {
	isolate(t)
	f := newFakeKinto(t)

	out, err := executeCommand(rootCmd, "login", "--server", f.URL(), "--auth", "accounts", "--user", "alice", "--password", "s3cret")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in to "+f.URL()+" as account:alice")
	resetFlags()

	out, err = executeCommand(rootCmd, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "- State: authenticated")
	assert.Contains(t, out, "- User: account:alice")
	assert.NotContains(t, out, "s3cret")

	out, err = executeCommand(rootCmd, "servers")
	require.NoError(t, err)
	assert.Contains(t, out, "1. "+f.URL()+" (accounts)")

	out, err = executeCommand(rootCmd, "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged out.")

	out, err = executeCommand(rootCmd, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Not logged in.")

	_, err = executeCommand(rootCmd, "permissions")
	assert.ErrorIs(t, err, errNotLoggedIn)

	// The server history survives logout.
	out, err = executeCommand(rootCmd, "servers")
	require.NoError(t, err)
	assert.Contains(t, out, f.URL())

	out, err = executeCommand(rootCmd, "servers", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Server history cleared.")
	out, err = executeCommand(rootCmd, "servers")
	require.NoError(t, err)
	assert.Contains(t, out, "No servers recorded.")
}

func TestLoginRejectedCredentials(t *testing.T) {
	isolate(t)
	f := newFakeKinto(t)

	out, err := executeCommand(rootCmd, "login", "--server", f.URL(), "--auth", "basicauth", "--user", "alice", "--password", "wrong")
	require.Error(t, err)
	assert.Contains(t, out, "[danger] Authentication failed")

	_, err = executeCommand(rootCmd, "permissions")
	assert.ErrorIs(t, err, errNotLoggedIn, "rejected credentials are not persisted")
}

func TestLoginUnsupportedAuthType(t *testing.T) {
	isolate(t)
	f := newFakeKinto(t)

	_, err := executeCommand(rootCmd, "login", "--server", f.URL(), "--auth", "kerberos")
	assert.Error(t, err)

	_, err = executeCommand(rootCmd, "login", "--server", f.URL(), "--auth", "portier")
	assert.Error(t, err, "portier needs a token")
}

func TestStatusJSON(t *testing.T) {
	isolate(t)
	f := newFakeKinto(t)
	login(t, f)

	out, err := executeCommand(rootCmd, "--format", "json", "status")
	require.NoError(t, err)
	var view map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &view), out)
	assert.Equal(t, "authenticated", view["state"])
	assert.Equal(t, "account:alice", view["user"])
}

func TestUnknownFormat(t *testing.T) {
	isolate(t)
	_, err := executeCommand(rootCmd, "--format", "yaml", "servers")
	assert.Error(t, err)
}

func TestPermissions(t *testing.T) {
	isolate(t)
	f := newFakeKinto(t)
	login(t, f)

	out, err := executeCommand(rootCmd, "permissions")
	require.NoError(t, err)
	assert.Contains(t, out, "| bucket | /buckets/main-workspace | read, write |")
}

func TestHistoryFirstPageAndAll(t *testing.T) {
	isolate(t)
	f := newFakeKinto(t)
	login(t, f)

	out, err := executeCommand(rootCmd, "history", "collection", "main", "cfr")
	require.NoError(t, err)
	assert.Contains(t, out, "record rec-1")
	assert.NotContains(t, out, "record rec-3")
	assert.Contains(t, out, "Showing 2 of 3 entries.")

	out, err = executeCommand(rootCmd, "history", "collection", "main", "cfr", "--all")
	require.NoError(t, err)
	for _, rid := range []string{"rec-1", "rec-2", "rec-3"} {
		assert.Contains(t, out, "record "+rid)
	}
	assert.Contains(t, out, "Showing 3 of 3 entries.")
}

func TestHistoryFailureNotifies(t *testing.T) {
	isolate(t)
	f := newFakeKinto(t)
	login(t, f)

	out, err := executeCommand(rootCmd, "history", "group", "unknown", "editors")
	require.Error(t, err)
	assert.Contains(t, out, "[danger] Error fetching group history")
}

func TestSignoffStatusAndApprove(t *testing.T) {
	isolate(t)
	f := newFakeKinto(t)
	login(t, f)

	out, err := executeCommand(rootCmd, "signoff", "status", "main-workspace", "cfr")
	require.NoError(t, err)
	assert.Contains(t, out, "- Status: to-review")
	assert.Contains(t, out, "1 updated, 1 deleted since 100 (not yet in destination)")

	out, err = executeCommand(rootCmd, "signoff", "approve", "main-workspace", "cfr")
	require.NoError(t, err)
	assert.Contains(t, out, "[success] Changes approved")
	assert.Contains(t, out, "- Status: to-sign")
	require.Len(t, f.patches, 1)
	assert.Equal(t, "to-sign", f.patches[0]["status"])
}

func TestSignoffRefusesWrongStatus(t *testing.T) {
	isolate(t)
	f := newFakeKinto(t)
	login(t, f)

	out, err := executeCommand(rootCmd, "signoff", "request-review", "main-workspace", "cfr", "--comment", "please")
	require.Error(t, err)
	assert.Contains(t, out, "[warning] Cannot request review")
	assert.Empty(t, f.patches)
}

func TestSignoffDeclineComment(t *testing.T) {
	isolate(t)
	f := newFakeKinto(t)
	login(t, f)

	_, err := executeCommand(rootCmd, "signoff", "decline", "main-workspace", "cfr", "-m", "typo in rec-1")
	require.NoError(t, err)
	require.Len(t, f.patches, 1)
	assert.Equal(t, "work-in-progress", f.patches[0]["status"])
	assert.Equal(t, "typo in rec-1", f.patches[0]["last_reviewer_comment"])
}

func TestSignoffNotConfigured(t *testing.T) {
	isolate(t)
	f := newFakeKinto(t)
	login(t, f)

	out, err := executeCommand(rootCmd, "signoff", "status", "other", "col")
	require.NoError(t, err)
	assert.Contains(t, out, "not configured")

	_, err = executeCommand(rootCmd, "signoff", "approve", "other", "col")
	assert.Error(t, err)
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Empty(t, firstNonEmpty("", ""))
}

func TestCheckCallbackServer(t *testing.T) {
	const server = "http://localhost:8888/v1"
	ok := callback.Result{
		Payload:     auth.Payload{Server: server, AuthType: "openid-google"},
		Credentials: auth.Token{Server: server, Type: auth.MethodOpenID, Provider: "google", Token: "tok"},
	}
	require.NoError(t, checkCallbackServer(ok, server))

	other := ok
	other.Payload.Server = "https://evil.example.com/v1"
	err := checkCallbackServer(other, server)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "evil.example.com")

	other = ok
	other.Credentials.Server = "https://evil.example.com/v1"
	assert.Error(t, checkCallbackServer(other, server))
}
