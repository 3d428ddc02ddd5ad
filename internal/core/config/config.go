package config

import (
	"fmt"
	"strings"

	corefn "github.com/pivotcache-lab/pivotcache/internal/core/function"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the top-level application config plus resolved function
// descriptors.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Executor  ExecutorConfig  `koanf:"executor"`
	Engine    EngineConfig    `koanf:"engine"`
	Functions FunctionsConfig `koanf:"functions"`
	Workbook  WorkbookConfig  `koanf:"workbook"`

	// FunctionLoading is populated by Load after parsing descriptor files.
	FunctionLoading FunctionLoadingConfig `koanf:"-"`
}

type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeMB int    `koanf:"max_body_size_mb"`
	Mode          string `koanf:"mode"` // debug | release
}

type DatabaseConfig struct {
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

// ExecutorConfig points at the analytical data source batches run against.
type ExecutorConfig struct {
	Driver string `koanf:"driver"` // duckdb
	DSN    string `koanf:"dsn"`    // database path; empty means in-memory
}

// EngineConfig carries the externally tunable engine constants.
type EngineConfig struct {
	// MaxQueryLength is the hard text-length ceiling for one batched query.
	MaxQueryLength int `koanf:"max_query_length"`

	// MinPoolSize is the smallest group worth consolidating. Values below 2
	// degrade to "always pool", which is legal but wasteful.
	MinPoolSize int `koanf:"min_pool_size"`

	// YearMin/YearMax bound the bare integers treated as calendar years
	// during date canonicalization.
	YearMin int `koanf:"year_min"`
	YearMax int `koanf:"year_max"`

	// FetchOnMiss lets a synchronous evaluate issue a single-key query when
	// the cache misses, instead of waiting for the next refresh cycle.
	FetchOnMiss bool `koanf:"fetch_on_miss"`
}

type FunctionsConfig struct {
	ConfigDir        string `koanf:"config_dir"`
	RequireFunctions bool   `koanf:"require_functions"`
}

type WorkbookConfig struct {
	// Path to the workbook serving as the formula source for refresh cycles.
	// Empty disables the refresh surface; evaluate still works.
	Path string `koanf:"path"`
}

type FunctionLoadingConfig struct {
	ConfigDir   string
	Descriptors []*corefn.FunctionDescriptor
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.MaxBodySizeMB <= 0 {
		return fmt.Errorf("server.max_body_size_mb must be > 0")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be > 0")
	}
	if c.Database.MaxIdleConns <= 0 {
		return fmt.Errorf("database.max_idle_conns must be > 0")
	}

	if c.Executor.Driver != "duckdb" {
		return fmt.Errorf("unsupported executor.driver %q", c.Executor.Driver)
	}

	if c.Engine.MaxQueryLength <= 0 {
		return fmt.Errorf("engine.max_query_length must be > 0")
	}
	if c.Engine.MinPoolSize < 1 {
		return fmt.Errorf("engine.min_pool_size must be >= 1")
	}
	if c.Engine.YearMin <= 0 || c.Engine.YearMax <= 0 {
		return fmt.Errorf("engine.year_min and engine.year_max must be > 0")
	}
	if c.Engine.YearMin >= c.Engine.YearMax {
		return fmt.Errorf("engine.year_min %d must be below engine.year_max %d", c.Engine.YearMin, c.Engine.YearMax)
	}

	if strings.TrimSpace(c.Functions.ConfigDir) == "" {
		return fmt.Errorf("functions.config_dir is required")
	}

	return nil
}

// Load parses config from file + env, validates it, then loads and validates
// function descriptors.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":                 8080,
		"server.host":                 "0.0.0.0",
		"server.max_body_size_mb":     1,
		"server.mode":                 "release",
		"database.dsn":                "postgres://localhost:5432/pivotcache?sslmode=disable",
		"database.max_open_conns":     25,
		"database.max_idle_conns":     25,
		"database.auto_migrate":       true,
		"executor.driver":             "duckdb",
		"executor.dsn":                "",
		"engine.max_query_length":     30000,
		"engine.min_pool_size":        3,
		"engine.year_min":             1900,
		"engine.year_max":             2150,
		"engine.fetch_on_miss":        true,
		"functions.config_dir":        "./config/functions",
		"functions.require_functions": true,
		"workbook.path":               "",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("PIVOTCACHE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "PIVOTCACHE_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	repo, err := corefn.NewFileSystemFunctionRepository(cfg.Functions.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load function descriptors: %w", err)
	}
	descriptors := repo.Descriptors()
	if cfg.Functions.RequireFunctions && len(descriptors) == 0 {
		return nil, fmt.Errorf("no function descriptors found in %q", cfg.Functions.ConfigDir)
	}

	cfg.FunctionLoading = FunctionLoadingConfig{
		ConfigDir:   cfg.Functions.ConfigDir,
		Descriptors: descriptors,
	}

	return &cfg, nil
}
