package readiness

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.hrry.dev/edgestack/pkg/certutil"
	"gopkg.hrry.dev/edgestack/pkg/log"
)

// LogSource fetches the most recent lines of the proxy's output.
type LogSource interface {
	Tail(ctx context.Context, lines int) ([]byte, error)
}

type LogSourceFunc func(ctx context.Context, lines int) ([]byte, error)

func (fn LogSourceFunc) Tail(ctx context.Context, lines int) ([]byte, error) { return fn(ctx, lines) }

// Issuance announcements. %[1]s is the quoted host, which must stand alone
// in a domain list so a certificate for a subdomain does not count for its
// parent domain.
const (
	// traefik: Certificates obtained for domains [a.example.com b.example.com]
	obtainedFormat = `certificates? obtained for domains? \[(?:[^\]\n]*[\s,"'])?%[1]s(?:[\s,"'][^\]\n]*)?\]`
	// traefik: Adding certificate for domain(s) a.example.com,b.example.com
	addingFormat = `adding certificate for domains?(?:\(s\))? (?:\S*,)?%[1]s(?:[,"'\s]|$)`
	// lego: [INFO] [a.example.com] Server responded with a certificate.
	legoFormat = `\[%[1]s\] server responded with a certificate`
)

var (
	// ACMEErrorPattern matches proxy log lines about failed issuance.
	ACMEErrorPattern = regexp.MustCompile(`(?i)(unable to obtain acme certificate|error renewing certificate|acme: error)`)
)

// IssuedPattern matches a proxy log line announcing a certificate for host.
func IssuedPattern(host string) *regexp.Regexp {
	h := regexp.QuoteMeta(host)
	return regexp.MustCompile(fmt.Sprintf(`(?im)`+obtainedFormat+`|`+addingFormat+`|`+legoFormat, h))
}

// CertWatcher tracks certificate issuance for a set of hosts. A host counts
// as issued once the ACME store lists it or the proxy logs announce it.
type CertWatcher struct {
	Hosts []string
	// StorePath is the proxy's ACME store (acme.json). Optional.
	StorePath string
	// Resolver is the certificate resolver key inside the store. Empty
	// means any resolver.
	Resolver string
	Logs     LogSource
	Tail     int
	Logger   log.FieldLogger
	// Warn receives each distinct ACME error line once.
	Warn func(line string)

	issued map[string]bool
	warned map[string]bool
}

// Check polls the store and the logs once.
func (w *CertWatcher) Check(ctx context.Context) (bool, error) {
	if w.issued == nil {
		w.issued = make(map[string]bool, len(w.Hosts))
		w.warned = make(map[string]bool)
	}
	if len(w.StorePath) > 0 {
		domains, err := StoredDomains(w.StorePath, w.Resolver)
		if err != nil {
			w.logger().WithError(err).Debug("could not read acme store")
		}
		for _, h := range w.Hosts {
			if domains[h] {
				w.issued[h] = true
			}
		}
	}
	if w.Logs != nil && len(w.Pending()) > 0 {
		out, err := w.Logs.Tail(ctx, w.Tail)
		if err != nil {
			// logs are best-effort, the container may still be starting
			w.logger().WithError(err).Debug("could not fetch proxy logs")
		} else {
			w.scan(string(out))
		}
	}
	return len(w.Pending()) == 0, nil
}

func (w *CertWatcher) scan(logs string) {
	for _, h := range w.Pending() {
		if IssuedPattern(h).MatchString(logs) {
			w.issued[h] = true
		}
	}
	for _, line := range strings.Split(logs, "\n") {
		if !ACMEErrorPattern.MatchString(line) {
			continue
		}
		line = strings.TrimSpace(line)
		if w.warned[line] {
			continue
		}
		w.warned[line] = true
		if w.Warn != nil {
			w.Warn(line)
		} else {
			w.logger().WithField("line", line).Warn("acme error")
		}
	}
}

// Pending returns the hosts still waiting for a certificate.
func (w *CertWatcher) Pending() []string {
	var pending []string
	for _, h := range w.Hosts {
		if !w.issued[h] {
			pending = append(pending, h)
		}
	}
	return pending
}

// Wait polls until every host has a certificate or timeout elapses.
func (w *CertWatcher) Wait(ctx context.Context, interval, timeout time.Duration) error {
	err := Poll(ctx, interval, timeout, w.Check)
	if errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w: no certificate for %s", ErrTimeout, strings.Join(w.Pending(), ", "))
	}
	return err
}

func (w *CertWatcher) logger() log.FieldLogger {
	if w.Logger == nil {
		return log.GetLogger()
	}
	return w.Logger
}

type acmeStore map[string]*struct {
	Certificates []struct {
		Domain struct {
			Main string   `json:"main"`
			SANs []string `json:"sans"`
		} `json:"domain"`
		Certificate string `json:"certificate"`
	} `json:"Certificates"`
}

// StoredCertificate is one certificate held in the ACME store.
type StoredCertificate struct {
	Resolver string
	Main     string
	SANs     []string
	// Cert is nil when the stored bundle could not be decoded, see Err.
	Cert *x509.Certificate
	Err  error
}

// Domains returns the main domain followed by the SANs.
func (sc *StoredCertificate) Domains() []string {
	return append([]string{sc.Main}, sc.SANs...)
}

// StoredCertificates reads the ACME store file at path, skipping entries
// that have no certificate yet. An empty file holds no certificates.
func StoredCertificates(path, resolver string) ([]StoredCertificate, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, nil
	}
	var store acmeStore
	if err = json.Unmarshal(b, &store); err != nil {
		return nil, errors.Wrap(err, "invalid acme store")
	}
	var res []StoredCertificate
	for name, r := range store {
		if r == nil || (len(resolver) > 0 && name != resolver) {
			continue
		}
		for _, c := range r.Certificates {
			if len(c.Certificate) == 0 {
				continue
			}
			sc := StoredCertificate{
				Resolver: name,
				Main:     c.Domain.Main,
				SANs:     c.Domain.SANs,
			}
			sc.Cert, sc.Err = certutil.DecodeStored(c.Certificate)
			res = append(res, sc)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Resolver != res[j].Resolver {
			return res[i].Resolver < res[j].Resolver
		}
		return res[i].Main < res[j].Main
	})
	return res, nil
}

// StoredDomains lists the domains holding a certificate in the ACME store.
func StoredDomains(path, resolver string) (map[string]bool, error) {
	certs, err := StoredCertificates(path, resolver)
	if err != nil {
		return nil, err
	}
	domains := make(map[string]bool)
	for _, c := range certs {
		for _, d := range c.Domains() {
			domains[d] = true
		}
	}
	return domains, nil
}
