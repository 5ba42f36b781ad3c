package provision

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/term"
)

var (
	ErrCancelled     = errors.New("cancelled")
	ErrMissingValue  = errors.New("missing required value")
	errPasswordMatch = errors.New("passwords were different")
)

// Prompter asks the operator for input.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
	// fd is the terminal file descriptor for hidden input, -1 when the input
	// is not a terminal.
	fd int
	// Interactive is false when prompting should fail instead of asking.
	Interactive bool
}

func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	fd := -1
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd = int(f.Fd())
	}
	return &Prompter{
		in:          bufio.NewReader(in),
		out:         out,
		fd:          fd,
		Interactive: true,
	}
}

func (p *Prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err == io.EOF && len(line) > 0 {
		err = nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Ask prompts for a value, returning def for an empty answer.
func (p *Prompter) Ask(label, def string) (string, error) {
	if !p.Interactive {
		if len(def) > 0 {
			return def, nil
		}
		return "", errors.Wrap(ErrMissingValue, label)
	}
	if len(def) > 0 {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	answer, err := p.readLine()
	if err != nil {
		return "", err
	}
	if len(answer) == 0 {
		return def, nil
	}
	return answer, nil
}

// Password prompts for a secret twice. Input is hidden on a terminal.
func (p *Prompter) Password(label string) (string, error) {
	if !p.Interactive {
		return "", errors.Wrap(ErrMissingValue, label)
	}
	fmt.Fprintf(p.out, "%s: ", label)
	pw, err := p.readSecret()
	if err != nil {
		return "", err
	}
	fmt.Fprintf(p.out, "Confirm %s: ", label)
	confirm, err := p.readSecret()
	if err != nil {
		return "", err
	}
	if !bytes.Equal(pw, confirm) {
		return "", errPasswordMatch
	}
	if len(pw) == 0 {
		return "", errors.Wrap(ErrMissingValue, label)
	}
	return string(pw), nil
}

func (p *Prompter) readSecret() ([]byte, error) {
	if p.fd < 0 {
		line, err := p.readLine()
		return []byte(line), err
	}
	pw, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out)
	return pw, err
}

// Confirm asks a yes/no question. Anything but y or yes is ErrCancelled.
func (p *Prompter) Confirm(question string) error {
	if !p.Interactive {
		return errors.Wrap(ErrCancelled, "confirmation required, use --yes")
	}
	fmt.Fprintf(p.out, "%s (y/N): ", question)
	answer, err := p.readLine()
	if err != nil && err != io.EOF {
		return err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return nil
	default:
		return ErrCancelled
	}
}

// Complete prompts for every required value still missing from c.
func (p *Prompter) Complete(c *Config) error {
	var err error
	ask := func(field *string, label, def string) {
		if err != nil || len(*field) > 0 {
			return
		}
		*field, err = p.Ask(label, def)
	}
	ask(&c.ProxyHost, "Proxy dashboard hostname", "")
	ask(&c.UIHost, "Management UI hostname", "")
	ask(&c.Email, "Email for certificate registration", "")
	ask(&c.Username, "Dashboard username", DefaultUsername)
	if err != nil {
		return err
	}
	if len(c.Password) == 0 {
		if c.Password, err = p.Password("Dashboard password"); err != nil {
			return err
		}
	}
	ask(&c.InstallDir, "Install directory", DefaultInstallDir)
	return err
}

// Summary describes what is about to be provisioned.
func Summary(c *Config) string {
	var b strings.Builder
	fmt.Fprintf(&b, "  proxy dashboard:  https://%s\n", c.ProxyHost)
	fmt.Fprintf(&b, "  management ui:    https://%s\n", c.UIHost)
	fmt.Fprintf(&b, "  acme email:       %s\n", c.Email)
	fmt.Fprintf(&b, "  username:         %s\n", c.Username)
	fmt.Fprintf(&b, "  install dir:      %s\n", c.InstallDir)
	if url := c.ACME.CAServerURL(); len(url) > 0 {
		fmt.Fprintf(&b, "  acme directory:   %s\n", url)
	}
	return b.String()
}
