// Package provision installs and starts the edge proxy and management UI
// stack on the local host.
package provision

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.hrry.dev/edgestack/pkg/host"
	"gopkg.hrry.dev/edgestack/pkg/log"
	"gopkg.hrry.dev/edgestack/pkg/readiness"
)

// Provisioner runs the install pipeline.
type Provisioner struct {
	Config   *Config
	Runner   host.Runner
	Logger   log.FieldLogger
	Out      *log.ColorLogger
	Client   *http.Client
	Resolver readiness.Resolver
	Metrics  *Metrics

	docker *host.Docker
	report *Report
}

// Report summarises a run for the operator.
type Report struct {
	ProxyURL       string
	UIURL          string
	Username       string
	Credentials    string
	ComposeFile    string
	ComposeCommand string
	CertsReady     bool
	RoutesReady    bool
	Warnings       []string
}

func New(c *Config, r host.Runner, logger log.FieldLogger, out *log.ColorLogger) *Provisioner {
	return &Provisioner{
		Config:  c,
		Runner:  r,
		Logger:  logger,
		Out:     out,
		Metrics: NewMetrics(),
		docker:  host.NewDocker(r),
	}
}

type step struct {
	name  string
	fatal bool
	run   func(ctx context.Context) error
}

var errSkipped = errors.New("skipped")

func (p *Provisioner) steps() []step {
	return []step{
		{"validate", true, p.validate},
		{"prepare", true, p.prepare},
		{"docker", true, p.installDocker},
		{"credentials", true, p.writeCredentials},
		{"acme-store", true, p.writeACMEStore},
		{"compose", true, p.writeCompose},
		{"firewall", false, p.openFirewall},
		{"dns", false, p.checkDNS},
		{"start", true, p.start},
		{"certificates", false, p.WaitForCertificates},
		{"routes", false, p.checkRoutes},
	}
}

// Run executes every step in order. Fatal step failures stop the run and are
// returned; advisory failures are collected in the report.
func (p *Provisioner) Run(ctx context.Context) (*Report, error) {
	c := p.Config
	p.report = &Report{
		ProxyURL:    "https://" + c.ProxyHost,
		UIURL:       "https://" + c.UIHost,
		Username:    c.Username,
		Credentials: c.CredentialsPath(),
		ComposeFile: c.ComposePath(),
	}
	defer p.writeMetrics()
	for _, s := range p.steps() {
		logger := p.Logger.WithField("step", s.name)
		start := time.Now()
		err := s.run(log.StashedInContext(ctx, logger))
		p.Metrics.observeStep(s.name, time.Since(start))
		switch {
		case err == nil:
			logger.WithField("duration", time.Since(start)).Debug("step finished")
		case errors.Is(err, errSkipped):
			logger.Debug("step skipped")
		case s.fatal || ctx.Err() != nil:
			p.Metrics.stepFailed(s.name, true)
			logger.WithError(err).Error("step failed")
			return p.report, errors.Wrap(err, s.name)
		default:
			p.Metrics.stepFailed(s.name, false)
			logger.WithError(err).Warn("step did not complete")
			p.Out.Warningf("%s: %v", s.name, err)
			p.report.Warnings = append(p.report.Warnings, fmt.Sprintf("%s: %v", s.name, err))
		}
	}
	p.report.ComposeCommand = p.docker.ComposeCommand()
	return p.report, nil
}

func (p *Provisioner) writeMetrics() {
	if len(p.Config.MetricsFile) == 0 {
		return
	}
	if err := p.Metrics.WriteFile(p.Config.MetricsFile); err != nil {
		p.Logger.WithError(err).Warn("failed to write metrics file")
	}
}

func (p *Provisioner) validate(ctx context.Context) error {
	return p.Config.Validate()
}

func (p *Provisioner) prepare(ctx context.Context) error {
	p.Out.Step("Preparing ", p.Config.InstallDir)
	return os.MkdirAll(p.Config.InstallDir, 0750)
}

func (p *Provisioner) installDocker(ctx context.Context) error {
	p.Out.Step("Checking container runtime")
	d := p.docker
	if d.Installed() {
		p.Out.Success("docker is already installed")
	} else {
		opts := &host.DockerInstall{
			Method:    p.Config.Docker.InstallMethod,
			ScriptURL: p.Config.Docker.ScriptURL,
			Packages:  p.Config.Docker.Packages,
			ScriptDir: p.Config.InstallDir,
			Client:    p.Client,
		}
		var pm *host.PackageManager
		if opts.Method == host.InstallPackages {
			var err error
			if pm, err = host.DetectPackageManager(p.Runner); err != nil {
				return err
			}
			log.FromContext(ctx).WithField("package_manager", pm.Name).Info("installing docker from distribution packages")
		} else {
			log.FromContext(ctx).WithField("url", opts.ScriptURL).Info("installing docker with the convenience script")
		}
		p.Out.Println("installing docker, this can take a few minutes")
		if err := d.Install(ctx, pm, opts); err != nil {
			return err
		}
		if !d.Installed() {
			return errors.New("docker is still missing after installation")
		}
		p.Out.Success("docker installed")
	}
	if err := d.EnableService(ctx); err != nil {
		return err
	}
	version, err := d.ServerVersion(ctx)
	if err != nil {
		return err
	}
	log.FromContext(ctx).WithField("version", version).Info("docker daemon is running")
	if err = d.DetectCompose(ctx); err != nil {
		return err
	}
	log.FromContext(ctx).WithField("compose", d.ComposeCommand()).Debug("found compose")
	return nil
}

func (p *Provisioner) writeCredentials(ctx context.Context) error {
	p.Out.Step("Writing dashboard credentials")
	changed, err := WriteCredentials(p.Config.CredentialsPath(), p.Config.Username, p.Config.Password)
	if err != nil {
		return errors.Wrap(err, "failed to write credentials")
	}
	log.FromContext(ctx).WithFields(log.Fields{
		"file":    p.Config.CredentialsPath(),
		"changed": changed,
	}).Info("credentials file ready")
	return nil
}

func (p *Provisioner) writeACMEStore(ctx context.Context) error {
	created, err := EnsureACMEStore(p.Config.ACMEStorePath())
	if err != nil {
		return errors.Wrap(err, "failed to create certificate store")
	}
	log.FromContext(ctx).WithFields(log.Fields{
		"file":    p.Config.ACMEStorePath(),
		"created": created,
	}).Info("certificate store ready")
	return nil
}

func (p *Provisioner) writeCompose(ctx context.Context) error {
	p.Out.Step("Rendering ", ComposeFile)
	changed, err := WriteCompose(p.Config)
	if err != nil {
		return err
	}
	log.FromContext(ctx).WithFields(log.Fields{
		"file":    p.Config.ComposePath(),
		"changed": changed,
	}).Info("compose document written")
	return nil
}

var webPorts = []host.Port{{Number: 80, Proto: "tcp"}, {Number: 443, Proto: "tcp"}}

func (p *Provisioner) openFirewall(ctx context.Context) error {
	if p.Config.SkipFirewall {
		return errSkipped
	}
	fw := host.DetectFirewall(p.Runner)
	if fw == nil {
		log.FromContext(ctx).Info("no firewall tool found, leaving ports alone")
		return errSkipped
	}
	p.Out.Step("Opening ports 80 and 443 with ", fw.Name)
	return fw.Allow(ctx, webPorts...)
}

func (p *Provisioner) checkDNS(ctx context.Context) error {
	if p.Config.Probe.Skip {
		return errSkipped
	}
	p.Out.Step("Checking DNS")
	probe := readiness.DNSProbe{
		Resolver:    p.Resolver,
		PublicIPURL: p.Config.Probe.PublicIPURL,
		Client:      p.Client,
	}
	results, err := probe.Check(ctx, p.Config.ProxyHost, p.Config.UIHost)
	if err != nil {
		log.FromContext(ctx).WithError(err).Warn("public ip lookup failed")
	}
	var bad []string
	for _, r := range results {
		switch {
		case r.Err != nil:
			bad = append(bad, fmt.Sprintf("%s does not resolve", r.Host))
		case !r.Matches():
			bad = append(bad, fmt.Sprintf("%s resolves to %s, not %s", r.Host, strings.Join(r.Addrs, ","), r.PublicIP))
		default:
			p.Out.Successf("%s -> %s", r.Host, strings.Join(r.Addrs, ","))
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("certificate issuance will likely fail: %s", strings.Join(bad, "; "))
	}
	return nil
}

func (p *Provisioner) start(ctx context.Context) error {
	p.Out.Step("Starting the stack")
	if err := p.docker.ComposeUp(ctx, p.Config.ComposeProject()); err != nil {
		return err
	}
	if out, err := p.docker.ComposePs(ctx, p.Config.ComposeProject()); err == nil {
		log.FromContext(ctx).Debug(string(out))
	}
	p.Out.Success("containers started")
	return nil
}

// WaitForCertificates polls the proxy until both hosts have certificates.
func (p *Provisioner) WaitForCertificates(ctx context.Context) error {
	interval, timeout, err := p.Config.Wait.Durations()
	if err != nil {
		return err
	}
	p.Out.Step(fmt.Sprintf("Waiting up to %v for certificates", timeout))
	w := readiness.CertWatcher{
		Hosts:     []string{p.Config.ProxyHost, p.Config.UIHost},
		StorePath: p.Config.ACMEStorePath(),
		Resolver:  p.Config.ACME.Resolver,
		Tail:      p.Config.Wait.Tail,
		Logger:    log.FromContext(ctx),
		Logs: readiness.LogSourceFunc(func(ctx context.Context, n int) ([]byte, error) {
			return p.docker.Logs(ctx, ProxyContainer, n)
		}),
		Warn: func(line string) { p.Out.Warning(line) },
	}
	err = w.Wait(ctx, interval, timeout)
	ready := err == nil
	p.Metrics.setCertsReady(ready)
	if p.report != nil {
		p.report.CertsReady = ready
	}
	if err != nil {
		return err
	}
	p.Out.Success("certificates issued")
	return nil
}

func (p *Provisioner) checkRoutes(ctx context.Context) error {
	if p.Config.Probe.Skip {
		return errSkipped
	}
	p.Out.Step("Checking routes")
	ok, err := p.CheckRoutes(ctx)
	if p.report != nil {
		p.report.RoutesReady = ok
	}
	return err
}

// CheckRoutes waits for the ui to answer and for the dashboard to require
// authentication and accept the configured credentials.
func (p *Provisioner) CheckRoutes(ctx context.Context) (bool, error) {
	interval, timeout, err := p.Config.Wait.Durations()
	if err != nil {
		return false, err
	}
	probe := readiness.HTTPProbe{Client: p.Client}
	c := p.Config
	if _, err = probe.WaitRoute(ctx, c.UIHost, "", "", interval, timeout, readiness.StatusOK); err != nil {
		return false, err
	}
	p.Out.Successf("%s is reachable", c.UIHost)
	status, err := probe.Get(ctx, c.ProxyHost, "", "")
	if err != nil {
		return false, err
	}
	if status != http.StatusUnauthorized {
		return false, fmt.Errorf("dashboard answered %d without credentials, expected %d", status, http.StatusUnauthorized)
	}
	status, err = probe.Get(ctx, c.ProxyHost, c.Username, c.Password)
	if err != nil {
		return false, err
	}
	if !readiness.StatusOK(status) || status == http.StatusUnauthorized {
		return false, fmt.Errorf("dashboard rejected the configured credentials (status %d)", status)
	}
	p.Out.Successf("%s requires and accepts the dashboard credentials", c.ProxyHost)
	return true, nil
}

// Check runs the DNS and route checks against a running stack. Nothing is
// checked when probe.skip is set.
func (p *Provisioner) Check(ctx context.Context) error {
	if p.Config.Probe.Skip {
		p.Out.Warning("network checks are disabled (probe.skip)")
		return nil
	}
	if err := p.checkDNS(ctx); err != nil && !errors.Is(err, errSkipped) {
		p.Out.Warning(err.Error())
	}
	p.Out.Step("Checking routes")
	ok, err := p.CheckRoutes(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("routes are not ready")
	}
	return nil
}

// Down stops the stack.
func (p *Provisioner) Down(ctx context.Context) error {
	return p.docker.ComposeDown(ctx, p.Config.ComposeProject())
}

// PrintReport writes the closing summary.
func (p *Provisioner) PrintReport(r *Report) {
	out := p.Out
	if len(r.Warnings) == 0 {
		out.Success("edgestack is up")
	} else {
		out.Warningf("edgestack is up with %d warning(s)", len(r.Warnings))
	}
	out.Printf("  proxy dashboard: %s/dashboard/ (user %q)\n", r.ProxyURL, r.Username)
	out.Printf("  management ui:   %s\n", r.UIURL)
	out.Printf("  credentials:     %s\n", r.Credentials)
	out.Printf("  compose file:    %s\n", r.ComposeFile)
	if !r.CertsReady {
		compose := r.ComposeCommand
		if len(compose) == 0 {
			compose = "docker compose"
		}
		out.Warningf("certificates not confirmed yet, follow progress with: docker logs -f %s", ProxyContainer)
		out.Printf("  inspect the stack with: %s -f %s ps\n", compose, r.ComposeFile)
	}
}
