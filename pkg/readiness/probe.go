package readiness

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Resolver is satisfied by *net.Resolver.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

type DNSResult struct {
	Host  string
	Addrs []string
	Err   error
	// PublicIP is the address the host is expected to resolve to. Empty
	// when it could not be determined.
	PublicIP string
}

// Matches reports whether the host resolves to the expected public address.
// It is true when the public address is unknown.
func (r *DNSResult) Matches() bool {
	if r.Err != nil {
		return false
	}
	if len(r.PublicIP) == 0 {
		return true
	}
	for _, a := range r.Addrs {
		if a == r.PublicIP {
			return true
		}
	}
	return false
}

// DNSProbe checks that hostnames point at this machine.
type DNSProbe struct {
	Resolver    Resolver
	PublicIPURL string
	Client      *http.Client
}

// PublicIP asks PublicIPURL for this host's public address.
func (p *DNSProbe) PublicIP(ctx context.Context) (string, error) {
	if len(p.PublicIPURL) == 0 {
		return "", nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.PublicIPURL, nil)
	if err != nil {
		return "", err
	}
	res, err := client(p.Client).Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %s: %s", p.PublicIPURL, res.Status)
	}
	b, err := io.ReadAll(io.LimitReader(res.Body, 64))
	if err != nil {
		return "", err
	}
	ip := net.ParseIP(strings.TrimSpace(string(b)))
	if ip == nil {
		return "", errors.Errorf("%s did not return an ip address", p.PublicIPURL)
	}
	return ip.String(), nil
}

func (p *DNSProbe) Check(ctx context.Context, hosts ...string) ([]DNSResult, error) {
	resolver := p.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	public, err := p.PublicIP(ctx)
	results := make([]DNSResult, len(hosts))
	for i, h := range hosts {
		results[i].Host = h
		results[i].PublicIP = public
		results[i].Addrs, results[i].Err = resolver.LookupHost(ctx, h)
	}
	return results, errors.Wrap(err, "could not determine public ip")
}

// HTTPProbe requests routes through the edge proxy.
type HTTPProbe struct {
	Client *http.Client
	// Scheme defaults to https.
	Scheme string
}

// Get requests the root of host, with basic auth when username is set, and
// returns the response status.
func (p *HTTPProbe) Get(ctx context.Context, host, username, password string) (int, error) {
	scheme := p.Scheme
	if len(scheme) == 0 {
		scheme = "https"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, scheme+"://"+host+"/", nil)
	if err != nil {
		return 0, err
	}
	if len(username) > 0 {
		req.SetBasicAuth(username, password)
	}
	res, err := client(p.Client).Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	io.Copy(io.Discard, io.LimitReader(res.Body, 1<<16))
	return res.StatusCode, nil
}

// StatusOK accepts any status below 500. Redirects and auth challenges still
// mean the route exists.
func StatusOK(status int) bool { return status > 0 && status < 500 }

// WaitRoute polls host until the status satisfies expect.
func (p *HTTPProbe) WaitRoute(
	ctx context.Context,
	host, username, password string,
	interval, timeout time.Duration,
	expect func(int) bool,
) (int, error) {
	var (
		status  int
		lastErr error
	)
	err := Poll(ctx, interval, timeout, func(ctx context.Context) (bool, error) {
		status, lastErr = p.Get(ctx, host, username, password)
		return lastErr == nil && expect(status), nil
	})
	if errors.Is(err, ErrTimeout) && lastErr != nil {
		return status, fmt.Errorf("%w: %s: %v", ErrTimeout, host, lastErr)
	}
	return status, err
}

func client(c *http.Client) *http.Client {
	if c == nil {
		return &http.Client{
			Timeout: 10 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	return c
}
