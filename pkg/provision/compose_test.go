package provision

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/matryer/is"
	"gopkg.in/yaml.v3"
)

func TestRenderCompose(t *testing.T) {
	is := is.New(t)
	c := testConfig("/opt/edgestack")
	b, err := RenderCompose(c)
	is.NoErr(err)
	is.True(bytes.HasPrefix(b, []byte(composeHeader)))

	var doc ComposeDocument
	is.NoErr(yaml.Unmarshal(b, &doc))
	proxy, ui := doc.Services[ProxyContainer], doc.Services[UIContainer]
	is.True(proxy != nil)
	is.True(ui != nil)
	is.Equal(proxy.Image, "traefik:v2.11")
	is.Equal(ui.Image, "portainer/portainer-ce:latest")
	is.Equal(proxy.Ports, []string{"80:80", "443:443"})
	is.Equal(len(ui.Ports), 0) // only reachable through the proxy
	is.Equal(proxy.Labels["traefik.http.routers.dashboard.rule"], "Host(`traefik.example.com`)")
	is.Equal(ui.Labels["traefik.http.routers.portainer.rule"], "Host(`portainer.example.com`)")
	is.Equal(ui.Labels["traefik.http.services.portainer.loadbalancer.server.port"], "9000")
	is.Equal(proxy.Labels["traefik.http.middlewares.dashboard-auth.basicauth.usersfile"], "/.htpasswd")
	is.True(doc.Networks["proxy"] != nil)
	is.True(doc.Volumes != nil)

	cmd := strings.Join(proxy.Command, " ")
	is.True(strings.Contains(cmd, "--certificatesresolvers.letsencrypt.acme.email=ops@example.com"))
	is.True(strings.Contains(cmd, "--certificatesresolvers.letsencrypt.acme.httpchallenge.entrypoint=web"))
	is.True(!strings.Contains(cmd, "caserver"))
	is.True(!bytes.Contains(b, []byte(c.Password)))
}

func TestRenderComposeStaging(t *testing.T) {
	is := is.New(t)
	c := testConfig("/opt/edgestack")
	c.ACME.Staging = true
	c.ACME.Resolver = "le"
	c.ProxyLogLevel = "DEBUG"
	b, err := RenderCompose(c)
	is.NoErr(err)
	is.True(bytes.Contains(b, []byte("--certificatesresolvers.le.acme.caserver="+stagingCAServer)))
	is.True(bytes.Contains(b, []byte("--log.level=DEBUG")))
	is.True(bytes.Contains(b, []byte("traefik.http.routers.portainer.tls.certresolver: le")))
}

func TestRenderComposeDeterministic(t *testing.T) {
	is := is.New(t)
	c := testConfig("/opt/edgestack")
	a, err := RenderCompose(c)
	is.NoErr(err)
	b, err := RenderCompose(c)
	is.NoErr(err)
	is.Equal(a, b)

	c.Images.Proxy = ""
	_, err = RenderCompose(c)
	is.True(err != nil)
}

func TestWriteCompose(t *testing.T) {
	is := is.New(t)
	c := testConfig(t.TempDir())
	changed, err := WriteCompose(c)
	is.NoErr(err)
	is.True(changed)
	changed, err = WriteCompose(c)
	is.NoErr(err)
	is.True(!changed)
	is.Equal(mode(t, c.ComposePath()), os.FileMode(0644))
}
