package provision

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/pkg/errors"
	"github.com/zclconf/go-cty/cty"
	"gopkg.in/yaml.v3"
)

// ApplyFile reads a config file and merges it over c. The format is picked
// from the file extension: .json, .yaml, .yml or .hcl.
func (c *Config) ApplyFile(filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	return c.Apply(filename, f)
}

// Apply decodes r using the format implied by filename and merges the
// result over c.
func (c *Config) Apply(filename string, r io.Reader) error {
	src, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	var config Config
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(src))
		dec.DisallowUnknownFields()
		err = dec.Decode(&config)
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(src))
		dec.KnownFields(true)
		err = dec.Decode(&config)
		if err == io.EOF {
			err = nil
		}
	case ".hcl":
		err = decodeHCL(filename, src, &config)
	default:
		return fmt.Errorf("unknown config file type %q", ext)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to decode %s", filename)
	}
	return c.Override(&config)
}

// hclConfig mirrors Config with optional blocks, which gohcl needs as
// pointers.
type hclConfig struct {
	ProxyHost     string        `hcl:"proxy_host,optional"`
	UIHost        string        `hcl:"ui_host,optional"`
	Email         string        `hcl:"email,optional"`
	Username      string        `hcl:"username,optional"`
	Password      string        `hcl:"password,optional"`
	InstallDir    string        `hcl:"install_dir,optional"`
	Project       string        `hcl:"project,optional"`
	Network       string        `hcl:"network,optional"`
	ProxyLogLevel string        `hcl:"proxy_log_level,optional"`
	SkipFirewall  bool          `hcl:"skip_firewall,optional"`
	MetricsFile   string        `hcl:"metrics_file,optional"`
	Images        *ImagesConfig `hcl:"images,block"`
	ACME          *ACMEConfig   `hcl:"acme,block"`
	Wait          *WaitConfig   `hcl:"wait,block"`
	Docker        *DockerConfig `hcl:"docker,block"`
	Probe         *ProbeConfig  `hcl:"probe,block"`
}

func decodeHCL(filename string, src []byte, c *Config) error {
	var hc hclConfig
	if err := hclsimple.Decode(filename, src, hclEvalContext(), &hc); err != nil {
		return err
	}
	*c = Config{
		ProxyHost:     hc.ProxyHost,
		UIHost:        hc.UIHost,
		Email:         hc.Email,
		Username:      hc.Username,
		Password:      hc.Password,
		InstallDir:    hc.InstallDir,
		Project:       hc.Project,
		Network:       hc.Network,
		ProxyLogLevel: hc.ProxyLogLevel,
		SkipFirewall:  hc.SkipFirewall,
		MetricsFile:   hc.MetricsFile,
	}
	if hc.Images != nil {
		c.Images = *hc.Images
	}
	if hc.ACME != nil {
		c.ACME = *hc.ACME
	}
	if hc.Wait != nil {
		c.Wait = *hc.Wait
	}
	if hc.Docker != nil {
		c.Docker = *hc.Docker
	}
	if hc.Probe != nil {
		c.Probe = *hc.Probe
	}
	return nil
}

// hclEvalContext exposes the environment to HCL files as env.NAME.
func hclEvalContext() *hcl.EvalContext {
	env := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		env[k] = cty.StringVal(v)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(env),
		},
	}
}
