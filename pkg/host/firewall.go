package host

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

type Port struct {
	Number int
	Proto  string
}

func (p Port) String() string {
	proto := p.Proto
	if proto == "" {
		proto = "tcp"
	}
	return fmt.Sprintf("%d/%s", p.Number, proto)
}

// Firewall opens ports with ufw or firewalld.
type Firewall struct {
	Name   string
	runner Runner
}

// DetectFirewall returns nil when neither ufw nor firewall-cmd is installed.
func DetectFirewall(r Runner) *Firewall {
	for _, name := range []string{"ufw", "firewall-cmd"} {
		if _, err := r.LookPath(name); err == nil {
			return &Firewall{Name: name, runner: r}
		}
	}
	return nil
}

func (f *Firewall) Allow(ctx context.Context, ports ...Port) error {
	for _, p := range ports {
		var cmd Cmd
		switch f.Name {
		case "ufw":
			cmd = Command("ufw", "allow", p.String())
		case "firewall-cmd":
			cmd = Command("firewall-cmd", "--permanent", "--add-port="+p.String())
		default:
			return fmt.Errorf("unknown firewall %q", f.Name)
		}
		if _, err := f.runner.Run(ctx, cmd); err != nil {
			return errors.Wrapf(err, "failed to allow port %s", p)
		}
	}
	if f.Name == "firewall-cmd" {
		_, err := f.runner.Run(ctx, Command("firewall-cmd", "--reload"))
		return errors.Wrap(err, "failed to reload firewalld")
	}
	return nil
}
