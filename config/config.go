// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/facet/adapters/access"
	"github.com/artpar/facet/core/composite"
	"github.com/artpar/facet/domain/manifest"
	"github.com/artpar/facet/domain/query"
	"gopkg.in/yaml.v3"
)

// Router choices.
const (
	RouterChi = "chi"
	RouterMux = "mux"
)

// Database drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Config is the root configuration structure.
type Config struct {
	Server      ServerConfig        `yaml:"server"`
	Logging     LoggingConfig       `yaml:"logging"`
	Metrics     MetricsConfig       `yaml:"metrics"`
	OpenAPI     OpenAPIConfig       `yaml:"openapi"`
	Database    DatabaseConfig      `yaml:"database"`
	Access      AccessConfig        `yaml:"access"`
	Tenant      query.TenantPolicy  `yaml:"tenant"`
	StripFields map[string][]string `yaml:"strip_fields"`
	Resources   []ResourceConfig    `yaml:"resources"`
	Composites  []CompositeConfig   `yaml:"composites"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Router         string        `yaml:"router"` // "chi" or "mux"
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"` // how long a bound route waits for a response
	TrustedHeaders bool          `yaml:"trusted_headers"` // read identity from X-Facet-* headers
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// OpenAPIConfig configures the route table, OpenAPI document and Swagger UI.
type OpenAPIConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DatabaseConfig configures the document store.
type DatabaseConfig struct {
	Driver     string `yaml:"driver"` // "memory" or "sqlite"
	DSN        string `yaml:"dsn"`
	Timestamps bool   `yaml:"timestamps"` // stamp createdAt/updatedAt
}

// AccessConfig configures the bundled role-based authorizer.
type AccessConfig struct {
	Enabled  bool            `yaml:"enabled"`
	Timeout  time.Duration   `yaml:"timeout"`
	Policies []access.Policy `yaml:"policies"`
}

// ResourceConfig declares one CRUD resource.
type ResourceConfig struct {
	Name          string            `yaml:"name"`
	Collection    string            `yaml:"collection"`
	EventType     string            `yaml:"event_type"`
	ModelID       string            `yaml:"model_id"`
	RouteBase     string            `yaml:"route_base"`
	Routes        []manifest.Route  `yaml:"routes"`
	ErrorMessages map[string]string `yaml:"error_messages"`
	DoAccessCheck *bool             `yaml:"do_access_check"`
	Refs          map[string]string `yaml:"refs"` // populate path -> collection
}

// AccessChecked reports whether the resource gates its operations.
func (r ResourceConfig) AccessChecked() bool {
	return r.DoAccessCheck == nil || *r.DoAccessCheck
}

// Manifest builds the resource's route manifest.
func (r ResourceConfig) Manifest() *manifest.Manifest {
	m := manifest.New().
		SetAPIEventType(r.EventType).
		SetAPIModelID(r.ModelID).
		SetRouteBase(r.RouteBase).
		SetRoutes(r.Routes)
	if len(r.ErrorMessages) > 0 {
		m.ExtendRouteErrorMessages(r.ErrorMessages)
	}
	return m
}

// CompositeConfig groups resources under one router.
type CompositeConfig struct {
	Name   string            `yaml:"name"`
	Leaf   string            `yaml:"leaf,omitempty"` // resource bound in passthrough mode
	Route  string            `yaml:"route,omitempty"`
	Routes []composite.Route `yaml:"routes,omitempty"`
}

// RouteOptions returns the composite's binding options.
func (c CompositeConfig) RouteOptions() composite.RouteOptions {
	return composite.RouteOptions{Route: c.Route, Routes: c.Routes}
}

// References returns every resource the composite binds.
func (c CompositeConfig) References() []string {
	var refs []string
	if len(c.Routes) == 0 && c.Leaf != "" {
		refs = append(refs, c.Leaf)
	}
	for _, r := range c.Routes {
		refs = append(refs, r.ResourceReference)
	}
	return refs
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse reads configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies FACET_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FACET_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("FACET_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FACET_SERVER_ROUTER"); v != "" {
		cfg.Server.Router = v
	}
	if v := os.Getenv("FACET_SERVER_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.RequestTimeout = d
		}
	}

	if v := os.Getenv("FACET_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("FACET_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	if v := os.Getenv("FACET_ACCESS_ENABLED"); v != "" {
		cfg.Access.Enabled = parseBool(v)
	}

	if v := os.Getenv("FACET_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FACET_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("FACET_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("FACET_OPENAPI_ENABLED"); v != "" {
		cfg.OpenAPI.Enabled = parseBool(v)
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Router == "" {
		cfg.Server.Router = RouterChi
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 120 * time.Second
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 30 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverMemory
	}
	if cfg.Database.Driver == DriverSQLite && cfg.Database.DSN == "" {
		cfg.Database.DSN = "facet.db"
	}

	if cfg.Access.Timeout == 0 {
		cfg.Access.Timeout = 30 * time.Second
	}

	if cfg.Tenant.Field == "" {
		cfg.Tenant.Field = query.DefaultTenantField
	}
	if cfg.Tenant.Mode == "" {
		cfg.Tenant.Mode = query.TenantStrict
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	for i := range cfg.Resources {
		r := &cfg.Resources[i]
		if r.Collection == "" {
			r.Collection = r.Name
		}
		if r.EventType == "" {
			r.EventType = r.Name
		}
		for j := range r.Routes {
			if v, ok := manifest.ParseVerb(string(r.Routes[j].Verb)); ok {
				r.Routes[j].Verb = v
			}
		}
	}
}

func validate(cfg *Config) error {
	validRouters := map[string]bool{RouterChi: true, RouterMux: true}
	if !validRouters[cfg.Server.Router] {
		return fmt.Errorf("server.router must be 'chi' or 'mux', got %q", cfg.Server.Router)
	}

	validDrivers := map[string]bool{DriverMemory: true, DriverSQLite: true}
	if !validDrivers[cfg.Database.Driver] {
		return fmt.Errorf("database.driver must be 'memory' or 'sqlite', got %q", cfg.Database.Driver)
	}

	if cfg.Tenant.Mode != query.TenantStrict && cfg.Tenant.Mode != query.TenantShared {
		return fmt.Errorf("tenant.mode must be 'strict' or 'shared', got %q", cfg.Tenant.Mode)
	}

	for verb := range cfg.StripFields {
		if _, ok := manifest.ParseVerb(verb); !ok {
			return fmt.Errorf("strip_fields: unknown verb %q", verb)
		}
	}

	for i, p := range cfg.Access.Policies {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("access.policies[%d]: %w", i, err)
		}
	}

	names := make(map[string]bool, len(cfg.Resources))
	for i, r := range cfg.Resources {
		if r.Name == "" {
			return fmt.Errorf("resources[%d].name is required", i)
		}
		if names[r.Name] {
			return fmt.Errorf("resources[%d]: duplicate name %q", i, r.Name)
		}
		names[r.Name] = true

		for j, route := range r.Routes {
			if _, ok := manifest.ParseVerb(string(route.Verb)); !ok {
				return fmt.Errorf("resources[%d].routes[%d]: unknown verb %q", i, j, route.Verb)
			}
			if route.Path == "" && r.RouteBase == "" {
				return fmt.Errorf("resources[%d].routes[%d]: path is required", i, j)
			}
		}
	}

	for i, c := range cfg.Composites {
		if c.Name == "" {
			return fmt.Errorf("composites[%d].name is required", i)
		}
		if c.Route == "" && len(c.Routes) == 0 {
			return fmt.Errorf("composites[%d]: route or routes is required", i)
		}
		if len(c.Routes) == 0 && !names[c.Leaf] {
			return fmt.Errorf("composites[%d]: leaf %q is not a resource", i, c.Leaf)
		}
		for j, entry := range c.Routes {
			if !names[entry.ResourceReference] {
				return fmt.Errorf("composites[%d].routes[%d]: unknown resource %q", i, j, entry.ResourceReference)
			}
		}
	}

	return nil
}

// Strip returns the configured strip fields, or the defaults when none are set.
func (c *Config) Strip() query.StripFields {
	if len(c.StripFields) == 0 {
		return query.DefaultStripFields()
	}
	out := make(query.StripFields, len(c.StripFields))
	for verb, fields := range c.StripFields {
		v, _ := manifest.ParseVerb(verb)
		out[v] = append([]string(nil), fields...)
	}
	return out
}

// Resource returns the resource named name.
func (c *Config) Resource(name string) (ResourceConfig, bool) {
	for _, r := range c.Resources {
		if r.Name == name {
			return r, true
		}
	}
	return ResourceConfig{}, false
}
