package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"
	"gopkg.hrry.dev/edgestack/pkg/certutil"
	"gopkg.hrry.dev/edgestack/pkg/host"
	"gopkg.hrry.dev/edgestack/pkg/log"
	"gopkg.hrry.dev/edgestack/pkg/provision"
	"gopkg.hrry.dev/edgestack/pkg/readiness"
)

var logger = log.SetLogger(log.New(
	log.WithOutput(log.GetOutput("LOG_OUTPUT")),
	log.WithEnv(),
	log.WithServiceName("edgestack"),
))

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cmd := NewRootCmd()
	err := cmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func NewRootCmd() *cobra.Command {
	var cli = Cli{runner: &host.ExecRunner{}}
	c := &cobra.Command{
		Use:           "edgestack",
		Short:         "Provision a TLS edge proxy and a container management UI on this host",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cli.in = cmd.InOrStdin()
			cli.out = cmd.OutOrStdout()
			return cli.readConfig(cmd.Flags())
		},
		RunE: cli.install,
	}
	c.AddCommand(
		&cobra.Command{
			Use:   "install",
			Short: "Install docker, write the stack and start it",
			RunE:  cli.install,
		},
		&cobra.Command{
			Use:   "render",
			Short: "Print the compose document",
			RunE:  cli.render,
		},
		&cobra.Command{
			Use:   "htpasswd",
			Short: "Print a dashboard credential line",
			RunE:  cli.htpasswd,
		},
		&cobra.Command{
			Use:   "wait",
			Short: "Wait for certificates to be issued",
			RunE:  cli.wait,
		},
		&cobra.Command{
			Use:   "check",
			Short: "Check DNS, certificates and routes of a running stack",
			RunE:  cli.check,
		},
		&cobra.Command{
			Use:   "down",
			Short: "Stop the stack",
			RunE:  cli.down,
		},
		&cobra.Command{
			Use:   "config",
			Short: "Print the resolved configuration",
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := cli.config.SetDefaults(); err != nil {
					return err
				}
				b, err := json.MarshalIndent(cli.config.Redacted(), "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", b)
				return nil
			},
		},
	)
	cli.bindFlags(c.PersistentFlags())
	return c
}

type Cli struct {
	configFiles    []string
	envFile        string
	yes            bool
	nonInteractive bool

	// flags holds values set on the command line, config the merged result.
	flags  provision.Config
	config provision.Config

	runner host.Runner
	in     io.Reader
	out    io.Writer
}

func (cli *Cli) bindFlags(flg *flag.FlagSet) {
	flg.StringArrayVarP(&cli.configFiles, "config", "c", nil, "config file (.yaml, .json or .hcl), may be repeated")
	flg.StringVar(&cli.envFile, "env-file", "", "load environment variables from a file")
	flg.BoolVarP(&cli.yes, "yes", "y", false, "do not ask for confirmation")
	flg.BoolVar(&cli.nonInteractive, "non-interactive", false, "fail instead of prompting for missing values")
	flg.StringVar(&cli.flags.InstallDir, "install-dir", "", "directory for the stack's files (default "+provision.DefaultInstallDir+")")
	flg.StringVar(&cli.flags.MetricsFile, "metrics-file", "", "write prometheus metrics to this file after a run")
	flg.StringVar(&cli.flags.ProxyHost, "proxy-host", "", "hostname of the proxy dashboard")
	flg.StringVar(&cli.flags.UIHost, "ui-host", "", "hostname of the management ui")
	flg.StringVar(&cli.flags.Email, "email", "", "email used for certificate registration")
	flg.StringVar(&cli.flags.Username, "username", "", "dashboard username (default "+provision.DefaultUsername+")")
	flg.StringVar(&cli.flags.Password, "password", "", "dashboard password, prefer EDGESTACK_PASSWORD or the prompt")
	flg.BoolVar(&cli.flags.ACME.Staging, "staging", false, "use the staging certificate authority")
	flg.StringVar(&cli.flags.Wait.Timeout, "wait-timeout", "", "how long to wait for certificates")
	flg.BoolVar(&cli.flags.SkipFirewall, "skip-firewall", false, "do not open ports 80 and 443")
	flg.BoolVar(&cli.flags.Probe.Skip, "skip-probes", false, "skip the DNS and route checks, also disables the check command")
}

// readConfig layers env file, config files, EDGESTACK_* variables and flags.
func (cli *Cli) readConfig(flg *flag.FlagSet) error {
	if len(cli.envFile) > 0 {
		if err := godotenv.Load(cli.envFile); err != nil {
			return errors.Wrap(err, "failed to load env file")
		}
	}
	for _, file := range cli.configFiles {
		if err := cli.config.ApplyFile(file); err != nil {
			return err
		}
	}
	cli.config.Init()
	if err := cli.config.Override(&cli.flags); err != nil {
		return err
	}
	// merging skips false values so explicit --flag=false is applied here
	for name, dst := range map[string]*bool{
		"staging":       &cli.config.ACME.Staging,
		"skip-firewall": &cli.config.SkipFirewall,
		"skip-probes":   &cli.config.Probe.Skip,
	} {
		if flg.Changed(name) {
			*dst, _ = flg.GetBool(name)
		}
	}
	return nil
}

func (cli *Cli) prompter() *provision.Prompter {
	p := provision.NewPrompter(cli.in, cli.out)
	p.Interactive = !cli.nonInteractive
	return p
}

func (cli *Cli) provisioner() *provision.Provisioner {
	p := provision.New(&cli.config, cli.runner, logger, log.NewColorLogger(cli.out, log.Cyan))
	p.Resolver = net.DefaultResolver
	return p
}

func (cli *Cli) install(cmd *cobra.Command, args []string) error {
	prompt := cli.prompter()
	if err := prompt.Complete(&cli.config); err != nil {
		return err
	}
	if err := cli.config.SetDefaults(); err != nil {
		return err
	}
	if err := cli.config.Validate(); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "\nAbout to provision:\n%s\n", provision.Summary(&cli.config))
	if !cli.yes {
		if err := prompt.Confirm("Continue?"); err != nil {
			return err
		}
	}
	p := cli.provisioner()
	report, err := p.Run(cmd.Context())
	if err != nil {
		p.Out.Error(err.Error())
		return err
	}
	p.PrintReport(report)
	return nil
}

func (cli *Cli) render(cmd *cobra.Command, args []string) error {
	if err := cli.config.SetDefaults(); err != nil {
		return err
	}
	if len(cli.config.ProxyHost) == 0 || len(cli.config.UIHost) == 0 || len(cli.config.Email) == 0 {
		return errors.New("proxy host, ui host and email are required to render")
	}
	b, err := provision.RenderCompose(&cli.config)
	if err != nil {
		return err
	}
	_, err = cli.out.Write(b)
	return err
}

func (cli *Cli) htpasswd(cmd *cobra.Command, args []string) error {
	var (
		c      = &cli.config
		prompt = cli.prompter()
		err    error
	)
	if len(c.Username) == 0 {
		if c.Username, err = prompt.Ask("Username", provision.DefaultUsername); err != nil {
			return err
		}
	}
	if len(c.Password) == 0 {
		if c.Password, err = prompt.Password("Password"); err != nil {
			return err
		}
	}
	line, err := provision.HashCredential(c.Username, c.Password)
	if err != nil {
		return err
	}
	fmt.Fprintln(cli.out, line)
	return nil
}

func (cli *Cli) wait(cmd *cobra.Command, args []string) error {
	if err := cli.config.SetDefaults(); err != nil {
		return err
	}
	return cli.provisioner().WaitForCertificates(cmd.Context())
}

func (cli *Cli) check(cmd *cobra.Command, args []string) error {
	if err := cli.config.SetDefaults(); err != nil {
		return err
	}
	c := &cli.config
	out := log.NewColorLogger(cli.out, log.Cyan)
	certs, err := readiness.StoredCertificates(c.ACMEStorePath(), c.ACME.Resolver)
	switch {
	case os.IsNotExist(errors.Cause(err)):
		out.Warningf("no certificate store at %s", c.ACMEStorePath())
	case err != nil:
		return err
	case len(certs) == 0:
		out.Warningf("no certificates in %s yet", c.ACMEStorePath())
	}
	now := time.Now()
	for _, sc := range certs {
		if sc.Err != nil {
			out.Warningf("%s: %v", sc.Main, sc.Err)
			continue
		}
		if err = certutil.Check(sc.Cert, sc.Main, now); err != nil {
			out.Warning(err.Error())
			continue
		}
		days := int(sc.Cert.NotAfter.Sub(now).Hours() / 24)
		out.Successf("%s: issued by %s, expires in %d days", strings.Join(sc.Domains(), ", "), sc.Cert.Issuer.CommonName, days)
		if certutil.IsStaging(sc.Cert) {
			out.Warningf("%s has a staging certificate, browsers will not trust it", sc.Main)
		}
	}
	if len(c.Password) == 0 && !c.Probe.Skip {
		if c.Password, err = cli.prompter().Password("Dashboard password"); err != nil {
			return err
		}
	}
	return cli.provisioner().Check(cmd.Context())
}

func (cli *Cli) down(cmd *cobra.Command, args []string) error {
	if err := cli.config.SetDefaults(); err != nil {
		return err
	}
	if !cli.yes {
		if err := cli.prompter().Confirm(fmt.Sprintf("Stop the stack in %s?", cli.config.InstallDir)); err != nil {
			return err
		}
	}
	return cli.provisioner().Down(cmd.Context())
}
