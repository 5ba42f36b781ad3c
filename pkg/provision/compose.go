package provision

import (
	"bytes"
	"fmt"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Container names of the two services.
const (
	ProxyContainer = "traefik"
	UIContainer    = "portainer"

	uiPort      = 9000
	dockerSock  = "/var/run/docker.sock:/var/run/docker.sock"
	uiDataMount = "portainer_data"
)

// ComposeDocument is the subset of the compose file format edgestack writes.
type ComposeDocument struct {
	Services map[string]*Service `yaml:"services"`
	Networks map[string]*Network `yaml:"networks,omitempty"`
	Volumes  map[string]*Volume  `yaml:"volumes,omitempty"`
}

type Service struct {
	Image         string            `yaml:"image"`
	ContainerName string            `yaml:"container_name,omitempty"`
	Restart       string            `yaml:"restart,omitempty"`
	Command       []string          `yaml:"command,omitempty"`
	Ports         []string          `yaml:"ports,omitempty"`
	Volumes       []string          `yaml:"volumes,omitempty"`
	Networks      []string          `yaml:"networks,omitempty"`
	SecurityOpt   []string          `yaml:"security_opt,omitempty"`
	Labels        map[string]string `yaml:"labels,omitempty"`
}

type Network struct {
	Name string `yaml:"name,omitempty"`
}

type Volume struct {
	Name string `yaml:"name,omitempty"`
}

const composeHeader = "# Generated by edgestack. Changes are overwritten on the next install.\n"

// NewComposeDocument builds the stack definition for c.
func NewComposeDocument(c *Config) (*ComposeDocument, error) {
	proxyImg, err := ParseImage(c.Images.Proxy)
	if err != nil {
		return nil, errors.Wrap(err, "invalid proxy image")
	}
	uiImg, err := ParseImage(c.Images.UI)
	if err != nil {
		return nil, errors.Wrap(err, "invalid ui image")
	}
	resolver := c.ACME.Resolver
	return &ComposeDocument{
		Services: map[string]*Service{
			ProxyContainer: {
				Image:         proxyImg.String(),
				ContainerName: ProxyContainer,
				Restart:       "unless-stopped",
				Command:       proxyCommand(c),
				Ports:         []string{"80:80", "443:443"},
				Volumes: []string{
					dockerSock + ":ro",
					"./" + ACMEStoreFile + ":/acme.json",
					"./" + CredentialsFile + ":/.htpasswd:ro",
				},
				Networks:    []string{c.Network},
				SecurityOpt: []string{"no-new-privileges:true"},
				Labels: map[string]string{
					"traefik.enable":                                              "true",
					"traefik.http.routers.dashboard.rule":                         hostRule(c.ProxyHost),
					"traefik.http.routers.dashboard.entrypoints":                  "websecure",
					"traefik.http.routers.dashboard.tls.certresolver":             resolver,
					"traefik.http.routers.dashboard.service":                      "api@internal",
					"traefik.http.routers.dashboard.middlewares":                  "dashboard-auth",
					"traefik.http.middlewares.dashboard-auth.basicauth.usersfile": "/.htpasswd",
				},
			},
			UIContainer: {
				Image:         uiImg.String(),
				ContainerName: UIContainer,
				Restart:       "unless-stopped",
				Volumes: []string{
					dockerSock,
					uiDataMount + ":/data",
				},
				Networks:    []string{c.Network},
				SecurityOpt: []string{"no-new-privileges:true"},
				Labels: map[string]string{
					"traefik.enable":                                           "true",
					"traefik.docker.network":                                   c.Network,
					"traefik.http.routers.portainer.rule":                      hostRule(c.UIHost),
					"traefik.http.routers.portainer.entrypoints":               "websecure",
					"traefik.http.routers.portainer.tls.certresolver":          resolver,
					"traefik.http.routers.portainer.service":                   "portainer",
					"traefik.http.services.portainer.loadbalancer.server.port": fmt.Sprint(uiPort),
				},
			},
		},
		Networks: map[string]*Network{
			c.Network: {Name: c.Network},
		},
		Volumes: map[string]*Volume{
			uiDataMount: {},
		},
	}, nil
}

func hostRule(host string) string {
	return fmt.Sprintf("Host(`%s`)", host)
}

func proxyCommand(c *Config) []string {
	resolver := "--certificatesresolvers." + c.ACME.Resolver + ".acme"
	cmd := []string{
		"--providers.docker=true",
		"--providers.docker.exposedbydefault=false",
		"--providers.docker.network=" + c.Network,
		"--entrypoints.web.address=:80",
		"--entrypoints.web.http.redirections.entrypoint.to=websecure",
		"--entrypoints.web.http.redirections.entrypoint.scheme=https",
		"--entrypoints.websecure.address=:443",
		"--api.dashboard=true",
		resolver + ".email=" + c.Email,
		resolver + ".storage=/acme.json",
		resolver + ".httpchallenge=true",
		resolver + ".httpchallenge.entrypoint=web",
	}
	if url := c.ACME.CAServerURL(); len(url) > 0 {
		cmd = append(cmd, resolver+".caserver="+url)
	}
	return append(cmd, "--log.level="+c.ProxyLogLevel)
}

// RenderCompose renders the compose document for c as YAML.
func RenderCompose(c *Config) ([]byte, error) {
	doc, err := NewComposeDocument(c)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(composeHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err = enc.Encode(doc); err != nil {
		return nil, errors.Wrap(err, "failed to render compose document")
	}
	if err = enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteCompose renders and writes the compose document, reporting whether
// the file on disk changed.
func WriteCompose(c *Config) (changed bool, err error) {
	b, err := RenderCompose(c)
	if err != nil {
		return false, err
	}
	return writeIfChanged(c.ComposePath(), b, composeMode)
}
