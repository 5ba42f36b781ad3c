package provision

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/matryer/is"
)

func TestPrompterComplete(t *testing.T) {
	is := is.New(t)
	var out bytes.Buffer
	p := NewPrompter(strings.NewReader(strings.Join([]string{
		"traefik.example.com",
		"portainer.example.com",
		"ops@example.com",
		"",
		"s3cret",
		"s3cret",
		"/srv/edgestack",
	}, "\n")), &out)
	var c Config
	is.NoErr(p.Complete(&c))
	is.Equal(c.ProxyHost, "traefik.example.com")
	is.Equal(c.UIHost, "portainer.example.com")
	is.Equal(c.Email, "ops@example.com")
	is.Equal(c.Username, DefaultUsername)
	is.Equal(c.Password, "s3cret")
	is.Equal(c.InstallDir, "/srv/edgestack")
	is.True(strings.Contains(out.String(), "Dashboard username [admin]: "))
	is.True(strings.Contains(out.String(), "Confirm Dashboard password: "))
}

func TestPrompterSkipsKnownValues(t *testing.T) {
	is := is.New(t)
	var out bytes.Buffer
	p := NewPrompter(strings.NewReader("ui.example.com\n"), &out)
	c := Config{
		ProxyHost:  "proxy.example.com",
		Email:      "a@example.com",
		Username:   "root",
		Password:   "pw",
		InstallDir: "/opt/x",
	}
	is.NoErr(p.Complete(&c))
	is.Equal(c.UIHost, "ui.example.com")
	is.Equal(out.String(), "Management UI hostname: ")
}

func TestPrompterPasswordMismatch(t *testing.T) {
	is := is.New(t)
	p := NewPrompter(strings.NewReader("one\ntwo\n"), &bytes.Buffer{})
	_, err := p.Password("Password")
	is.True(errors.Is(err, errPasswordMatch))

	p = NewPrompter(strings.NewReader("\n\n"), &bytes.Buffer{})
	_, err = p.Password("Password")
	is.True(errors.Is(err, ErrMissingValue))
}

func TestPrompterNonInteractive(t *testing.T) {
	is := is.New(t)
	var out bytes.Buffer
	p := NewPrompter(strings.NewReader(""), &out)
	p.Interactive = false

	v, err := p.Ask("Install directory", DefaultInstallDir)
	is.NoErr(err)
	is.Equal(v, DefaultInstallDir)

	c := Config{ProxyHost: "proxy.example.com"}
	err = p.Complete(&c)
	is.True(errors.Is(err, ErrMissingValue))
	is.True(strings.Contains(err.Error(), "Management UI hostname"))
	is.True(errors.Is(p.Confirm("Continue?"), ErrCancelled))
	is.Equal(out.Len(), 0)
}

func TestPrompterConfirm(t *testing.T) {
	for _, tt := range []struct {
		answer string
		ok     bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"sure\n", false},
	} {
		p := NewPrompter(strings.NewReader(tt.answer), &bytes.Buffer{})
		err := p.Confirm("Continue?")
		if tt.ok && err != nil {
			t.Errorf("%q: unexpected error %v", tt.answer, err)
		}
		if !tt.ok && !errors.Is(err, ErrCancelled) {
			t.Errorf("%q: expected ErrCancelled, got %v", tt.answer, err)
		}
	}
}

func TestSummary(t *testing.T) {
	is := is.New(t)
	c := testConfig("/opt/edgestack")
	s := Summary(c)
	is.True(strings.Contains(s, "https://traefik.example.com"))
	is.True(strings.Contains(s, "https://portainer.example.com"))
	is.True(!strings.Contains(s, c.Password))
	is.True(!strings.Contains(s, "acme directory"))
	c.ACME.Staging = true
	is.True(strings.Contains(Summary(c), stagingCAServer))
}
