package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matryer/is"
	"gopkg.hrry.dev/edgestack/pkg/provision"
	"gopkg.in/yaml.v3"
)

// clearEnv unsets EDGESTACK_* variables for the duration of a test,
// including the ones an env file may load.
func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{"EDGESTACK_EMAIL", "EDGESTACK_PASSWORD", "EDGESTACK_INSTALL_DIR"}
	for _, kv := range os.Environ() {
		if k, _, _ := strings.Cut(kv, "="); strings.HasPrefix(k, "EDGESTACK_") {
			keys = append(keys, k)
		}
	}
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestConfigLayering(t *testing.T) {
	is := is.New(t)
	clearEnv(t)
	base := writeFile(t, "base.yaml", "proxy_host: traefik.example.com\nui_host: portainer.example.com\nemail: file@example.com\n")
	override := writeFile(t, "override.hcl", "ui_host = \"ui.example.com\"\n")
	env := writeFile(t, "edgestack.env", "EDGESTACK_EMAIL=env@example.com\nEDGESTACK_PASSWORD=from-env\nEDGESTACK_INSTALL_DIR=/srv/edgestack\n")

	out, err := execute(t, "", "config",
		"-c", base, "-c", override,
		"--env-file", env,
		"--install-dir", "/data/edgestack",
		"--staging",
	)
	is.NoErr(err)
	var c provision.Config
	is.NoErr(json.Unmarshal([]byte(out), &c))
	is.Equal(c.ProxyHost, "traefik.example.com")
	is.Equal(c.UIHost, "ui.example.com")      // later file wins
	is.Equal(c.Email, "file@example.com")     // files win over the environment
	is.Equal(c.InstallDir, "/data/edgestack") // flags win over everything
	is.Equal(c.Password, "<redacted>")
	is.True(c.ACME.Staging)
	is.Equal(c.Username, provision.DefaultUsername)
	is.Equal(c.Wait.Timeout, "3m")
	is.True(!strings.Contains(out, "from-env"))
}

func TestConfigFalseFlags(t *testing.T) {
	is := is.New(t)
	clearEnv(t)
	file := writeFile(t, "edgestack.yaml", "acme:\n  staging: true\nskip_firewall: true\nprobe:\n  skip: true\n")

	out, err := execute(t, "", "config", "-c", file)
	is.NoErr(err)
	var c provision.Config
	is.NoErr(json.Unmarshal([]byte(out), &c))
	is.True(c.ACME.Staging)
	is.True(c.SkipFirewall)
	is.True(c.Probe.Skip)

	out, err = execute(t, "", "config", "-c", file,
		"--staging=false",
		"--skip-firewall=false",
		"--skip-probes=false",
	)
	is.NoErr(err)
	c = provision.Config{}
	is.NoErr(json.Unmarshal([]byte(out), &c))
	is.True(!c.ACME.Staging)
	is.True(!c.SkipFirewall)
	is.True(!c.Probe.Skip)
}

func TestRender(t *testing.T) {
	is := is.New(t)
	clearEnv(t)
	out, err := execute(t, "", "render",
		"--proxy-host", "traefik.example.com",
		"--ui-host", "portainer.example.com",
		"--email", "ops@example.com",
	)
	is.NoErr(err)
	var doc provision.ComposeDocument
	is.NoErr(yaml.Unmarshal([]byte(out), &doc))
	is.Equal(doc.Services[provision.UIContainer].Labels["traefik.http.routers.portainer.rule"], "Host(`portainer.example.com`)")

	_, err = execute(t, "", "render", "--proxy-host", "traefik.example.com")
	is.True(err != nil)
}

func TestHtpasswd(t *testing.T) {
	is := is.New(t)
	clearEnv(t)
	out, err := execute(t, "\ns3cret\ns3cret\n", "htpasswd")
	is.NoErr(err)
	fields := strings.Fields(out) // prompts share the line
	line := fields[len(fields)-1]
	is.True(strings.HasPrefix(line, "admin:"))
	is.True(provision.VerifyCredential([]byte(line), "admin", "s3cret"))

	out, err = execute(t, "", "htpasswd", "--username", "root", "--password", "pw", "--non-interactive")
	is.NoErr(err)
	is.True(provision.VerifyCredential([]byte(out), "root", "pw"))
}

func TestInstallNonInteractiveMissingValues(t *testing.T) {
	is := is.New(t)
	clearEnv(t)
	_, err := execute(t, "", "install", "--non-interactive", "--proxy-host", "traefik.example.com")
	is.True(errors.Is(err, provision.ErrMissingValue))
}

func TestInstallDeclined(t *testing.T) {
	is := is.New(t)
	clearEnv(t)
	dir := t.TempDir()
	out, err := execute(t, "n\n",
		"--proxy-host", "traefik.example.com",
		"--ui-host", "portainer.example.com",
		"--email", "ops@example.com",
		"--username", "admin",
		"--password", "pw",
		"--install-dir", filepath.Join(dir, "stack"),
	)
	is.True(errors.Is(err, provision.ErrCancelled))
	is.True(strings.Contains(out, "About to provision"))
	_, err = os.Stat(filepath.Join(dir, "stack"))
	is.True(os.IsNotExist(err)) // nothing happens before confirmation
}

func TestInstallInvalid(t *testing.T) {
	is := is.New(t)
	clearEnv(t)
	_, err := execute(t, "",
		"--proxy-host", "same.example.com",
		"--ui-host", "same.example.com",
		"--email", "ops@example.com",
		"--password", "pw",
		"--non-interactive",
		"--yes",
	)
	is.True(err != nil)
	is.True(strings.Contains(err.Error(), "must be different"))
}
