package provision

import (
	"fmt"
	"net/mail"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/imdario/mergo"
	"github.com/pkg/errors"
	"gopkg.hrry.dev/edgestack/pkg/host"
)

// Config is everything needed to provision the stack.
type Config struct {
	ProxyHost  string `json:"proxy_host" yaml:"proxy_host"`
	UIHost     string `json:"ui_host" yaml:"ui_host"`
	Email      string `json:"email" yaml:"email"`
	Username   string `json:"username" yaml:"username"`
	Password   string `json:"password,omitempty" yaml:"password,omitempty"`
	InstallDir string `json:"install_dir" yaml:"install_dir"`
	Project    string `json:"project" yaml:"project"`
	Network    string `json:"network" yaml:"network"`
	// ProxyLogLevel is the edge proxy's own log level.
	ProxyLogLevel string `json:"proxy_log_level" yaml:"proxy_log_level"`
	SkipFirewall  bool   `json:"skip_firewall" yaml:"skip_firewall"`
	MetricsFile   string `json:"metrics_file,omitempty" yaml:"metrics_file,omitempty"`

	Images ImagesConfig `json:"images" yaml:"images"`
	ACME   ACMEConfig   `json:"acme" yaml:"acme"`
	Wait   WaitConfig   `json:"wait" yaml:"wait"`
	Docker DockerConfig `json:"docker" yaml:"docker"`
	Probe  ProbeConfig  `json:"probe" yaml:"probe"`
}

type ImagesConfig struct {
	Proxy string `json:"proxy" yaml:"proxy" hcl:"proxy,optional"`
	UI    string `json:"ui" yaml:"ui" hcl:"ui,optional"`
}

type ACMEConfig struct {
	Resolver string `json:"resolver" yaml:"resolver" hcl:"resolver,optional"`
	Staging  bool   `json:"staging" yaml:"staging" hcl:"staging,optional"`
	// CAServer overrides the directory URL. Takes precedence over Staging.
	CAServer string `json:"ca_server,omitempty" yaml:"ca_server,omitempty" hcl:"ca_server,optional"`
}

type WaitConfig struct {
	Interval string `json:"interval" yaml:"interval" hcl:"interval,optional"`
	Timeout  string `json:"timeout" yaml:"timeout" hcl:"timeout,optional"`
	// Tail is the number of log lines fetched per poll.
	Tail int `json:"tail" yaml:"tail" hcl:"tail,optional"`
}

type DockerConfig struct {
	InstallMethod string   `json:"install_method" yaml:"install_method" hcl:"install_method,optional"`
	ScriptURL     string   `json:"script_url" yaml:"script_url" hcl:"script_url,optional"`
	Packages      []string `json:"packages,omitempty" yaml:"packages,omitempty" hcl:"packages,optional"`
}

type ProbeConfig struct {
	PublicIPURL string `json:"public_ip_url" yaml:"public_ip_url" hcl:"public_ip_url,optional"`
	Skip        bool   `json:"skip" yaml:"skip" hcl:"skip,optional"`
}

const (
	DefaultInstallDir = "/opt/edgestack"
	DefaultUsername   = "admin"

	stagingCAServer = "https://acme-staging-v02.api.letsencrypt.org/directory"
)

// DefaultConfig returns the values used for anything left unset.
func DefaultConfig() Config {
	return Config{
		Username:      DefaultUsername,
		InstallDir:    DefaultInstallDir,
		Project:       "edgestack",
		Network:       "proxy",
		ProxyLogLevel: "INFO",
		Images: ImagesConfig{
			Proxy: "traefik:v2.11",
			UI:    "portainer/portainer-ce:latest",
		},
		ACME: ACMEConfig{Resolver: "letsencrypt"},
		Wait: WaitConfig{
			Interval: "5s",
			Timeout:  "3m",
			Tail:     100,
		},
		Docker: DockerConfig{
			InstallMethod: host.InstallScript,
			ScriptURL:     "https://get.docker.com",
		},
		Probe: ProbeConfig{PublicIPURL: "https://api.ipify.org"},
	}
}

// SetDefaults fills every empty field from DefaultConfig.
func (c *Config) SetDefaults() error {
	return mergo.Merge(c, DefaultConfig())
}

// Init reads EDGESTACK_* environment variables into fields that are still
// empty.
func (c *Config) Init() {
	for _, v := range []struct {
		field *string
		key   string
	}{
		{&c.ProxyHost, "EDGESTACK_PROXY_HOST"},
		{&c.UIHost, "EDGESTACK_UI_HOST"},
		{&c.Email, "EDGESTACK_EMAIL"},
		{&c.Username, "EDGESTACK_USERNAME"},
		{&c.Password, "EDGESTACK_PASSWORD"},
		{&c.InstallDir, "EDGESTACK_INSTALL_DIR"},
		{&c.MetricsFile, "EDGESTACK_METRICS_FILE"},
	} {
		if len(*v.field) == 0 {
			*v.field = os.Getenv(v.key)
		}
	}
}

// Override copies every non-empty field of o into c.
func (c *Config) Override(o *Config) error {
	return mergo.Merge(c, o, mergo.WithOverride, mergo.WithAppendSlice)
}

var hostnameRe = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,63}$`)

func validHostname(h string) bool {
	return len(h) <= 253 && hostnameRe.MatchString(h)
}

func (c *Config) Validate() error {
	for _, v := range []struct{ name, val string }{
		{"proxy host", c.ProxyHost},
		{"ui host", c.UIHost},
		{"email", c.Email},
		{"username", c.Username},
		{"password", c.Password},
		{"install directory", c.InstallDir},
	} {
		if len(strings.TrimSpace(v.val)) == 0 {
			return fmt.Errorf("%s is required", v.name)
		}
	}
	for _, h := range []string{c.ProxyHost, c.UIHost} {
		if !validHostname(h) {
			return fmt.Errorf("%q is not a valid hostname", h)
		}
	}
	if strings.EqualFold(c.ProxyHost, c.UIHost) {
		return errors.New("proxy host and ui host must be different")
	}
	if _, err := mail.ParseAddress(c.Email); err != nil {
		return errors.Wrapf(err, "invalid email %q", c.Email)
	}
	if strings.ContainsAny(c.Username, ":\n") {
		return errors.New("username cannot contain ':' or newlines")
	}
	if !filepath.IsAbs(c.InstallDir) {
		return fmt.Errorf("install directory %q must be an absolute path", c.InstallDir)
	}
	interval, timeout, err := c.Wait.Durations()
	if err != nil {
		return err
	}
	if interval <= 0 || interval >= timeout {
		return fmt.Errorf("wait interval %v must be positive and shorter than the timeout %v", interval, timeout)
	}
	for _, img := range []string{c.Images.Proxy, c.Images.UI} {
		if _, err = ParseImage(img); err != nil {
			return errors.Wrapf(err, "invalid image %q", img)
		}
	}
	switch c.Docker.InstallMethod {
	case host.InstallScript, host.InstallPackages:
	default:
		return fmt.Errorf("unknown docker install method %q", c.Docker.InstallMethod)
	}
	return nil
}

func (w *WaitConfig) Durations() (interval, timeout time.Duration, err error) {
	interval, err = time.ParseDuration(w.Interval)
	if err != nil {
		return 0, 0, errors.Wrap(err, "invalid wait interval")
	}
	timeout, err = time.ParseDuration(w.Timeout)
	if err != nil {
		return 0, 0, errors.Wrap(err, "invalid wait timeout")
	}
	return interval, timeout, nil
}

// CAServerURL returns the ACME directory URL, empty for the proxy's default.
func (a *ACMEConfig) CAServerURL() string {
	if len(a.CAServer) > 0 {
		return a.CAServer
	}
	if a.Staging {
		return stagingCAServer
	}
	return ""
}

// Redacted returns a copy safe for printing.
func (c Config) Redacted() Config {
	if len(c.Password) > 0 {
		c.Password = "<redacted>"
	}
	return c
}

// Files written into the install directory.
const (
	CredentialsFile = ".htpasswd"
	ACMEStoreFile   = "acme.json"
	ComposeFile     = "docker-compose.yml"
)

func (c *Config) CredentialsPath() string { return filepath.Join(c.InstallDir, CredentialsFile) }
func (c *Config) ACMEStorePath() string   { return filepath.Join(c.InstallDir, ACMEStoreFile) }
func (c *Config) ComposePath() string     { return filepath.Join(c.InstallDir, ComposeFile) }

func (c *Config) ComposeProject() *host.ComposeProject {
	return &host.ComposeProject{File: c.ComposePath(), Name: c.Project}
}
