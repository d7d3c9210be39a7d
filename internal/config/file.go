package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/n0madic/go-modelgate/internal/models"
)

// File is the on-disk gateway configuration.
type File struct {
	Server   FileServer     `yaml:"server"`
	Backends Backends       `yaml:"backends"`
	Models   []models.Entry `yaml:"models"`
}

type FileServer struct {
	Host            string  `yaml:"host"`
	Port            int     `yaml:"port"`
	AccessToken     string  `yaml:"access_token"`
	GatewayPrefix   *string `yaml:"gateway_prefix"`
	UpstreamTimeout string  `yaml:"upstream_timeout"`
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-default} references. Unset variables
// without a default expand to "".
func ExpandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		if v, ok := os.LookupEnv(m[1]); ok && v != "" {
			return v
		}
		return m[2]
	})
}

// LoadFile reads and parses a YAML config file after expanding environment
// references.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseFile([]byte(ExpandEnv(string(data))))
}

// ParseFile parses already expanded YAML.
func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &f, nil
}

// Apply overlays every non-empty value of f onto cfg.
func (f *File) Apply(cfg *ServerConfig) error {
	s := f.Server
	setString(&cfg.Host, s.Host)
	if s.Port != 0 {
		cfg.Port = s.Port
	}
	setString(&cfg.AccessToken, s.AccessToken)
	if s.GatewayPrefix != nil {
		cfg.GatewayPrefix = *s.GatewayPrefix
	}
	if s.UpstreamTimeout != "" {
		d, err := time.ParseDuration(s.UpstreamTimeout)
		if err != nil {
			return fmt.Errorf("server.upstream_timeout: %w", err)
		}
		cfg.UpstreamTimeout = d
	}

	b, dst := f.Backends, &cfg.Backends
	setString(&dst.OpenAI.BaseURL, b.OpenAI.BaseURL)
	setString(&dst.OpenAI.APIKey, b.OpenAI.APIKey)

	setString(&dst.Azure.Endpoint, b.Azure.Endpoint)
	setString(&dst.Azure.APIKey, b.Azure.APIKey)
	setString(&dst.Azure.APIVersion, b.Azure.APIVersion)

	setString(&dst.Bedrock.Endpoint, b.Bedrock.Endpoint)
	setString(&dst.Bedrock.Region, b.Bedrock.Region)
	setString(&dst.Bedrock.AccessKeyID, b.Bedrock.AccessKeyID)
	setString(&dst.Bedrock.SecretAccessKey, b.Bedrock.SecretAccessKey)
	setString(&dst.Bedrock.BearerToken, b.Bedrock.BearerToken)

	setString(&dst.Vertex.Project, b.Vertex.Project)
	setString(&dst.Vertex.Location, b.Vertex.Location)
	setString(&dst.Vertex.Endpoint, b.Vertex.Endpoint)
	setString(&dst.Vertex.APIVersion, b.Vertex.APIVersion)
	setString(&dst.Vertex.AccessToken, b.Vertex.AccessToken)
	setString(&dst.Vertex.CredentialsFile, b.Vertex.CredentialsFile)

	if len(f.Models) > 0 {
		cfg.Models = append([]models.Entry(nil), f.Models...)
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
