// Package config loads the service's settings-per-concern configuration
// (SPEC_FULL.md's AMBIENT "static config loading" stack): a YAML base file
// overlaid with "NEUROAGENT_<SECTION>__<FIELD>" environment variables,
// grounded in original_source/.../app/config.py's nested BaseSettings
// layout (one struct per concern, env_prefix "NEUROAGENT_",
// env_nested_delimiter "__") but loaded the Go way — gopkg.in/yaml.v3 for
// the file, reflection-free explicit env overlay for the rest, rather than
// the Python stack's pydantic-settings magic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Agent holds Stream Engine turn limits (spec.md §4.1/§9).
type Agent struct {
	Model                string  `yaml:"model"`
	Temperature          float32 `yaml:"temperature"`
	MaxTurns             int     `yaml:"max_turns"`
	MaxParallelToolCalls int     `yaml:"max_parallel_tool_calls"`
}

// Storage holds the S3-compatible object store's connection settings.
type Storage struct {
	EndpointURL string `yaml:"endpoint_url"`
	BucketName  string `yaml:"bucket_name"`
	Region      string `yaml:"region"`
	AccessKey   string `yaml:"access_key"`
	SecretKey   string `yaml:"secret_key"`
	ExpiresIn   int    `yaml:"expires_in"`
}

// DB holds the Postgres connection settings for the Persistence Layer.
type DB struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Redis holds the Rate Limiter's backing store settings.
type Redis struct {
	Addr string `yaml:"addr"`
}

// Keycloak holds the Auth Gate's identity-provider settings.
type Keycloak struct {
	Issuer string `yaml:"issuer"`
}

// UserInfoEndpoint derives the userinfo URL the way
// SettingsKeycloak.user_info_endpoint does.
func (k Keycloak) UserInfoEndpoint() string {
	return k.Issuer + "/protocol/openid-connect/userinfo"
}

// VirtualLab holds the endpoint used to resolve vlab/project membership.
type VirtualLab struct {
	GetProjectURL string `yaml:"get_project_url"`
}

// Logging holds the structured logger's verbosity settings.
type Logging struct {
	Level            string `yaml:"level"`
	ExternalPackages string `yaml:"external_packages"`
}

// Misc holds settings with no other natural home, mirroring
// config.py's SettingsMisc.
type Misc struct {
	ApplicationPrefix string `yaml:"application_prefix"`
	CORSOrigins       string `yaml:"cors_origins"`
	QueryMaxSize      int    `yaml:"query_max_size"`
	FrontendURL       string `yaml:"frontend_url"`
}

// CORSOriginList splits the comma-separated CORSOrigins the way
// config.py's consumers split cors_origins themselves.
func (m Misc) CORSOriginList() []string {
	if strings.TrimSpace(m.CORSOrigins) == "" {
		return nil
	}
	parts := strings.Split(m.CORSOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// RateLimit holds the per-route admission limits (spec.md §4.6): distinct
// limits for personal vs in-project threads, and the fixed window length
// in seconds (kept as a plain int rather than time.Duration since
// gopkg.in/yaml.v3 has no built-in Duration-from-string support).
type RateLimit struct {
	PersonalLimit int `yaml:"personal_limit"`
	ProjectLimit  int `yaml:"project_limit"`
	WindowSeconds int `yaml:"window_seconds"`
}

// Window returns the fixed window as a time.Duration.
func (r RateLimit) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// Config is the full settings tree, one field per concern (matching
// config.py's Settings class section-for-section).
type Config struct {
	Agent      Agent      `yaml:"agent"`
	Storage    Storage    `yaml:"storage"`
	DB         DB         `yaml:"db"`
	Redis      Redis      `yaml:"redis"`
	Keycloak   Keycloak   `yaml:"keycloak"`
	VirtualLab VirtualLab `yaml:"virtual_lab"`
	Logging    Logging    `yaml:"logging"`
	Misc       Misc       `yaml:"misc"`
	RateLimit  RateLimit  `yaml:"rate_limit"`
}

// Default returns a Config populated with the same defaults config.py
// assigns to its settings models when a field is left unconfigured.
func Default() Config {
	return Config{
		Agent: Agent{
			Model:                "gpt-4o-mini",
			Temperature:          0,
			MaxTurns:             10,
			MaxParallelToolCalls: 4,
		},
		Storage: Storage{
			EndpointURL: "http://localhost:9000",
			BucketName:  "neuroagent",
			AccessKey:   "minioadmin",
			SecretKey:   "minioadmin",
			ExpiresIn:   600,
		},
		Redis: Redis{Addr: "localhost:6379"},
		Keycloak: Keycloak{
			Issuer: "https://openbluebrain.com/auth/realms/SBO",
		},
		VirtualLab: VirtualLab{
			GetProjectURL: "https://openbluebrain.com/api/virtual-lab-manager/virtual-labs",
		},
		Logging: Logging{Level: "info", ExternalPackages: "warning"},
		Misc: Misc{
			QueryMaxSize: 10000,
			FrontendURL:  "http://localhost:3000",
		},
		RateLimit: RateLimit{
			PersonalLimit: 20,
			ProjectLimit:  100,
			WindowSeconds: 3600,
		},
	}
}

// Load builds a Config starting from Default(), overlaying path's YAML
// contents (if path is non-empty and the file exists), then overlaying
// "NEUROAGENT_<SECTION>__<FIELD>" environment variables — the same
// precedence order as config.py's BaseSettings (explicit values override
// file values override field defaults).
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides mirrors config.py's env_prefix="NEUROAGENT_",
// env_nested_delimiter="__" scheme for the handful of fields deployments
// most commonly override at runtime (secrets and connection strings),
// rather than reflecting over every field.
func applyEnvOverrides(cfg *Config) {
	str := func(env string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			*dst = v
		}
	}
	num := func(env string, dst *int) {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	str("NEUROAGENT_AGENT__MODEL", &cfg.Agent.Model)
	num("NEUROAGENT_AGENT__MAX_TURNS", &cfg.Agent.MaxTurns)
	num("NEUROAGENT_AGENT__MAX_PARALLEL_TOOL_CALLS", &cfg.Agent.MaxParallelToolCalls)

	str("NEUROAGENT_STORAGE__ENDPOINT_URL", &cfg.Storage.EndpointURL)
	str("NEUROAGENT_STORAGE__BUCKET_NAME", &cfg.Storage.BucketName)
	str("NEUROAGENT_STORAGE__REGION", &cfg.Storage.Region)
	str("NEUROAGENT_STORAGE__ACCESS_KEY", &cfg.Storage.AccessKey)
	str("NEUROAGENT_STORAGE__SECRET_KEY", &cfg.Storage.SecretKey)

	str("NEUROAGENT_DB__HOST", &cfg.DB.Host)
	str("NEUROAGENT_DB__PORT", &cfg.DB.Port)
	str("NEUROAGENT_DB__NAME", &cfg.DB.Name)
	str("NEUROAGENT_DB__USER", &cfg.DB.User)
	str("NEUROAGENT_DB__PASSWORD", &cfg.DB.Password)

	str("NEUROAGENT_REDIS__ADDR", &cfg.Redis.Addr)
	str("NEUROAGENT_KEYCLOAK__ISSUER", &cfg.Keycloak.Issuer)
	str("NEUROAGENT_LOGGING__LEVEL", &cfg.Logging.Level)
	str("NEUROAGENT_MISC__FRONTEND_URL", &cfg.Misc.FrontendURL)
	str("NEUROAGENT_MISC__CORS_ORIGINS", &cfg.Misc.CORSOrigins)
}

// DSN builds a Postgres connection string from DB, in the pgx/v5 URL form.
func (d DB) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", d.User, d.Password, d.Host, d.Port, d.Name)
}
