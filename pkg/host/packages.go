package host

import (
	"context"

	"github.com/pkg/errors"
)

var ErrNoPackageManager = errors.New("no supported package manager found (tried apt-get, dnf, yum)")

// PackageList is a set of system packages installed together.
type PackageList struct {
	Packages []string
}

// PackageManager drives the distribution's package manager non-interactively.
type PackageManager struct {
	Name   string
	runner Runner
}

var packageManagers = []string{"apt-get", "dnf", "yum"}

// DetectPackageManager returns the first supported package manager found
// on the PATH.
func DetectPackageManager(r Runner) (*PackageManager, error) {
	for _, name := range packageManagers {
		if _, err := r.LookPath(name); err == nil {
			return &PackageManager{Name: name, runner: r}, nil
		}
	}
	return nil, ErrNoPackageManager
}

func (pm *PackageManager) Update(ctx context.Context) error {
	var cmd Cmd
	switch pm.Name {
	case "apt-get":
		cmd = pm.command("update", "-y")
	default:
		cmd = pm.command("makecache", "-y")
	}
	_, err := pm.runner.Run(ctx, cmd)
	return errors.Wrap(err, "failed to update package index")
}

func (pm *PackageManager) Install(ctx context.Context, list *PackageList) error {
	if list == nil || len(list.Packages) == 0 {
		return nil
	}
	args := []string{"install", "-y"}
	if pm.Name == "apt-get" {
		args = append(args, "--no-install-recommends")
	}
	args = append(args, list.Packages...)
	_, err := pm.runner.Run(ctx, pm.command(args...))
	return errors.Wrapf(err, "failed to install %v", list.Packages)
}

func (pm *PackageManager) command(args ...string) Cmd {
	cmd := Command(pm.Name, args...)
	if pm.Name == "apt-get" {
		cmd.Env = []string{"DEBIAN_FRONTEND=noninteractive"}
	}
	return cmd
}

// DockerPackages returns the distribution packages that provide the docker
// engine and the compose plugin for this package manager.
func (pm *PackageManager) DockerPackages() *PackageList {
	switch pm.Name {
	case "apt-get":
		return &PackageList{Packages: []string{"docker.io", "docker-compose-v2"}}
	case "dnf":
		return &PackageList{Packages: []string{"moby-engine", "docker-compose"}}
	default:
		return &PackageList{Packages: []string{"docker", "docker-compose-plugin"}}
	}
}
