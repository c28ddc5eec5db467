// Package prompt asks the interactive questions of the login flow.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/x/term"

	"github.com/fakeyudi/kintoadm/internal/auth"
	"github.com/fakeyudi/kintoadm/internal/storage"
)

// Prompter reads answers from in and writes questions to out.
type Prompter struct {
	r          *bufio.Reader
	out        io.Writer
	readSecret func() (string, error)
}

// New returns a Prompter. When in is a terminal, secrets are read without
// echo; otherwise they are read as plain lines.
func New(in io.Reader, out io.Writer) *Prompter {
	p := &Prompter{r: bufio.NewReader(in), out: out}
	if f, ok := in.(*os.File); ok && term.IsTerminal(f.Fd()) {
		p.readSecret = func() (string, error) {
			b, err := term.ReadPassword(f.Fd())
			fmt.Fprintln(p.out)
			return string(b), err
		}
	}
	return p
}

// Ask prints prompt and returns the trimmed answer, or defaultVal when the
// answer is empty.
func (p *Prompter) Ask(prompt, defaultVal string) (string, error) {
	if defaultVal != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(p.out, "%s: ", prompt)
	}
	line, err := p.r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return defaultVal, nil
	}
	return line, nil
}

// AskBool asks a yes/no question.
func (p *Prompter) AskBool(prompt string, defaultVal bool) (bool, error) {
	def := "n"
	if defaultVal {
		def = "y"
	}
	ans, err := p.Ask(prompt+" (y/n)", def)
	if err != nil {
		return false, err
	}
	return strings.ToLower(ans) == "y" || strings.ToLower(ans) == "yes", nil
}

// AskSecret asks for a value that should not be echoed.
func (p *Prompter) AskSecret(prompt string) (string, error) {
	if p.readSecret == nil {
		return p.Ask(prompt, "")
	}
	fmt.Fprintf(p.out, "%s: ", prompt)
	return p.readSecret()
}

// Answers are the values collected by Login.
type Answers struct {
	Server   string
	AuthType string
	Username string
	Password string
}

// NeedsPassword reports whether the auth type authenticates with a username
// and password.
func NeedsPassword(authType string) bool {
	method, _ := auth.SplitAuthType(authType)
	switch method {
	case auth.MethodBasicAuth, auth.MethodAccounts, auth.MethodLDAP:
		return true
	}
	return false
}

// Login asks for the server, auth type and, for password methods, the
// username and password. Fields already set in given are not asked again.
// A recent server can be picked by its number.
func (p *Prompter) Login(given Answers, recent []storage.ServerEntry) (Answers, error) {
	a := given
	var err error

	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, "  ┌─────────────────────────────────┐")
	fmt.Fprintln(p.out, "  │        kintoadm — login         │")
	fmt.Fprintln(p.out, "  └─────────────────────────────────┘")
	fmt.Fprintln(p.out)

	if a.Server == "" {
		def := ""
		if len(recent) > 0 {
			for i, e := range recent {
				fmt.Fprintf(p.out, "  %d. %s (%s)\n", i+1, e.Server, e.AuthType)
			}
			fmt.Fprintln(p.out)
			def = recent[0].Server
		}
		ans, err := p.Ask("  Server URL or number", def)
		if err != nil {
			return a, err
		}
		if n, convErr := strconv.Atoi(ans); convErr == nil && n >= 1 && n <= len(recent) {
			ans = recent[n-1].Server
		}
		a.Server = ans
	}
	if a.Server == "" {
		return a, auth.ErrMissingServer
	}

	if a.AuthType == "" {
		def := auth.MethodAccounts
		for _, e := range recent {
			if e.Server == a.Server {
				def = e.AuthType
				break
			}
		}
		a.AuthType, err = p.Ask("  Auth type (anonymous/basicauth/accounts/ldap/openid-<provider>)", def)
		if err != nil {
			return a, err
		}
	}

	if NeedsPassword(a.AuthType) {
		if a.Username == "" {
			a.Username, err = p.Ask("  Username", "")
			if err != nil {
				return a, err
			}
		}
		if a.Password == "" {
			a.Password, err = p.AskSecret("  Password")
			if err != nil {
				return a, err
			}
		}
	}

	fmt.Fprintln(p.out)
	return a, nil
}
