package host

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var ErrNoCompose = errors.New("neither \"docker compose\" nor \"docker-compose\" is available")

// Install methods for the docker engine.
const (
	InstallScript   = "script"
	InstallPackages = "packages"
)

// DockerInstall controls how the docker engine gets installed.
type DockerInstall struct {
	Method    string
	ScriptURL string
	// Packages overrides the package manager's default docker packages.
	Packages []string
	// ScriptDir is where the downloaded install script is saved.
	ScriptDir string
	Client    *http.Client
}

// Docker runs the docker CLI.
type Docker struct {
	runner  Runner
	compose []string
}

func NewDocker(r Runner) *Docker {
	return &Docker{runner: r}
}

// Installed reports whether the docker CLI is on the PATH.
func (d *Docker) Installed() bool {
	_, err := d.runner.LookPath("docker")
	return err == nil
}

// ServerVersion asks the daemon for its version. This fails when the daemon
// is not running.
func (d *Docker) ServerVersion(ctx context.Context) (string, error) {
	out, err := d.runner.Run(ctx, Command("docker", "version", "--format", "{{.Server.Version}}"))
	if err != nil {
		return "", errors.Wrap(err, "docker daemon is not reachable")
	}
	return strings.TrimSpace(string(out)), nil
}

func (d *Docker) Install(ctx context.Context, pm *PackageManager, opts *DockerInstall) error {
	switch opts.Method {
	case InstallPackages:
		if pm == nil {
			return ErrNoPackageManager
		}
		list := pm.DockerPackages()
		if len(opts.Packages) > 0 {
			list = &PackageList{Packages: opts.Packages}
		}
		if err := pm.Update(ctx); err != nil {
			return err
		}
		return pm.Install(ctx, list)
	case InstallScript, "":
		script, err := download(ctx, opts.Client, opts.ScriptURL, opts.ScriptDir)
		if err != nil {
			return errors.Wrap(err, "failed to download docker install script")
		}
		defer os.Remove(script)
		_, err = d.runner.Run(ctx, Command("sh", script))
		return errors.Wrap(err, "docker install script failed")
	default:
		return fmt.Errorf("unknown docker install method %q", opts.Method)
	}
}

// EnableService starts the docker daemon at boot and now. Hosts without
// systemd are left alone.
func (d *Docker) EnableService(ctx context.Context) error {
	if _, err := d.runner.LookPath("systemctl"); err != nil {
		return nil
	}
	_, err := d.runner.Run(ctx, Command("systemctl", "enable", "--now", "docker"))
	return errors.Wrap(err, "failed to enable docker service")
}

// DetectCompose finds the compose implementation, preferring the docker CLI
// plugin over the standalone binary.
func (d *Docker) DetectCompose(ctx context.Context) error {
	if d.compose != nil {
		return nil
	}
	if _, err := d.runner.Run(ctx, Command("docker", "compose", "version")); err == nil {
		d.compose = []string{"docker", "compose"}
		return nil
	}
	if _, err := d.runner.LookPath("docker-compose"); err == nil {
		d.compose = []string{"docker-compose"}
		return nil
	}
	return ErrNoCompose
}

// ComposeCommand returns the compose invocation in use, e.g. "docker compose".
func (d *Docker) ComposeCommand() string {
	return strings.Join(d.compose, " ")
}

// ComposeProject identifies a compose document and its project name.
type ComposeProject struct {
	File string
	Name string
}

func (d *Docker) ComposeUp(ctx context.Context, p *ComposeProject) error {
	_, err := d.runCompose(ctx, p, "up", "-d", "--remove-orphans")
	return errors.Wrap(err, "failed to start stack")
}

func (d *Docker) ComposeDown(ctx context.Context, p *ComposeProject) error {
	_, err := d.runCompose(ctx, p, "down")
	return errors.Wrap(err, "failed to stop stack")
}

func (d *Docker) ComposePs(ctx context.Context, p *ComposeProject) ([]byte, error) {
	return d.runCompose(ctx, p, "ps")
}

func (d *Docker) runCompose(ctx context.Context, p *ComposeProject, args ...string) ([]byte, error) {
	if err := d.DetectCompose(ctx); err != nil {
		return nil, err
	}
	full := append([]string{}, d.compose[1:]...)
	full = append(full, "-f", p.File, "-p", p.Name)
	full = append(full, args...)
	return d.runner.Run(ctx, Command(d.compose[0], full...))
}

// Logs returns the last tail lines of a container's output, stdout and
// stderr interleaved.
func (d *Docker) Logs(ctx context.Context, container string, tail int) ([]byte, error) {
	cmd := Command("docker", "logs", "--tail", strconv.Itoa(tail), container)
	cmd.MergeStderr = true
	return d.runner.Run(ctx, cmd)
}

func download(ctx context.Context, client *http.Client, url, dir string) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %s: %s", url, res.Status)
	}
	f, err := os.CreateTemp(dir, "install-docker-*.sh")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err = io.Copy(f, res.Body); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
