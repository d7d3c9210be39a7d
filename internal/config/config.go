package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/n0madic/go-modelgate/internal/models"
)

const (
	DefaultGatewayPrefix   = "openai_proxy_pipe."
	DefaultAzureAPIVersion = "2024-06-01"
	DefaultUpstreamTimeout = 5 * time.Minute
)

// ServerConfig holds all server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	Verbose         bool
	Debug           bool
	AccessToken     string
	LogFormat       string
	GatewayPrefix   string
	ConfigPath      string
	UpstreamTimeout time.Duration
	Backends        Backends
	// Models overrides the built-in catalog when non-empty.
	Models []models.Entry
}

// Backends groups per-provider settings. A backend whose settings are all
// empty stays unconfigured.
type Backends struct {
	OpenAI  OpenAIConfig  `yaml:"openai"`
	Azure   AzureConfig   `yaml:"azure"`
	Bedrock BedrockConfig `yaml:"bedrock"`
	Vertex  VertexConfig  `yaml:"vertex"`
}

type OpenAIConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

func (c OpenAIConfig) Enabled() bool {
	return c.APIKey != "" || c.BaseURL != ""
}

type AzureConfig struct {
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	APIVersion string `yaml:"api_version"`
}

func (c AzureConfig) Enabled() bool {
	return c.Endpoint != ""
}

type BedrockConfig struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	BearerToken     string `yaml:"bearer_token"`
}

// Enabled reports whether an endpoint or any credential is set. A region on
// its own does not enable the backend.
func (c BedrockConfig) Enabled() bool {
	return c.Endpoint != "" || c.AccessKeyID != "" || c.BearerToken != ""
}

type VertexConfig struct {
	Project         string `yaml:"project"`
	Location        string `yaml:"location"`
	Endpoint        string `yaml:"endpoint"`
	APIVersion      string `yaml:"api_version"`
	AccessToken     string `yaml:"access_token"`
	CredentialsFile string `yaml:"credentials_file"`
}

func (c VertexConfig) Enabled() bool {
	return c.Project != ""
}

// DefaultFromEnv creates a ServerConfig with defaults from environment variables.
func DefaultFromEnv() *ServerConfig {
	return &ServerConfig{
		Host:            envString("MODELGATE_HOST", "127.0.0.1"),
		Port:            envInt("MODELGATE_PORT", 8000),
		Verbose:         envBool("MODELGATE_VERBOSE"),
		Debug:           envBool("MODELGATE_DEBUG"),
		AccessToken:     strings.TrimSpace(os.Getenv("MODELGATE_ACCESS_TOKEN")),
		LogFormat:       envOrDefault("MODELGATE_LOG_FORMAT", "text"),
		GatewayPrefix:   envString("MODELGATE_GATEWAY_PREFIX", DefaultGatewayPrefix),
		ConfigPath:      strings.TrimSpace(os.Getenv("MODELGATE_CONFIG")),
		UpstreamTimeout: envDuration("MODELGATE_UPSTREAM_TIMEOUT", DefaultUpstreamTimeout),
		Backends: Backends{
			OpenAI: OpenAIConfig{
				BaseURL: envString("OPENAI_BASE_URL", ""),
				APIKey:  envString("OPENAI_API_KEY", ""),
			},
			Azure: AzureConfig{
				Endpoint:   envString("AZURE_OPENAI_ENDPOINT", ""),
				APIKey:     envString("AZURE_OPENAI_API_KEY", ""),
				APIVersion: envString("AZURE_OPENAI_API_VERSION", DefaultAzureAPIVersion),
			},
			Bedrock: BedrockConfig{
				Endpoint:        envString("BEDROCK_ENDPOINT", ""),
				Region:          envString("AWS_REGION", ""),
				AccessKeyID:     envString("AWS_ACCESS_KEY_ID", ""),
				SecretAccessKey: envString("AWS_SECRET_ACCESS_KEY", ""),
				BearerToken:     envString("BEDROCK_BEARER_TOKEN", ""),
			},
			Vertex: VertexConfig{
				Project:         envString("VERTEX_PROJECT", ""),
				Location:        envString("VERTEX_LOCATION", ""),
				Endpoint:        envString("VERTEX_ENDPOINT", ""),
				AccessToken:     envString("VERTEX_ACCESS_TOKEN", ""),
				CredentialsFile: envString("GOOGLE_APPLICATION_CREDENTIALS", ""),
			},
		},
	}
}

// Addr returns host:port for the listener.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return strings.ToLower(strings.TrimSpace(v))
	}
	return defaultVal
}

// envString is envOrDefault without case folding, for URLs and secrets.
func envString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func envInt(key string, defaultVal int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return defaultVal
	}
	return n
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
