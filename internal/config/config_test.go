package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// ConfigSuite is a test suite for config loading.
type ConfigSuite struct {
	suite.Suite
	tempDir string
}

func (s *ConfigSuite) SetupTest() {
	s.tempDir = s.T().TempDir()
	s.T().Setenv("HOME", s.tempDir)
	for _, key := range []string{"PROMPTTUNE_DB", "PROMPTTUNE_ENDPOINT", "PROMPTTUNE_API_KEY", "PROMPTTUNE_LOG_LEVEL", "PROMPTTUNE_ADDR"} {
		s.T().Setenv(key, "")
	}
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

func (s *ConfigSuite) TestDefault() {
	cfg := Default()

	s.Equal(filepath.Join(s.tempDir, ".prompttune", "prompttune.db"), cfg.DBPath)
	s.Equal(DefaultLogLevel, cfg.LogLevel)
	s.Equal(DefaultAddr, cfg.Server.Addr)
	s.Equal(DefaultTimeout, cfg.Optimizer.Timeout)
	s.Equal(DefaultCacheTTL, cfg.Optimizer.CacheTTL)
	s.Equal(DefaultCacheSize, cfg.Optimizer.CacheSize)
	s.Empty(cfg.Optimizer.Endpoint)
}

func (s *ConfigSuite) TestLoadMissingFileUsesDefaults() {
	cfg, err := Load(filepath.Join(s.tempDir, "nope.yaml"))
	s.Require().NoError(err)
	s.Equal(Default(), cfg)
}

func (s *ConfigSuite) TestLoadFile() {
	path := filepath.Join(s.tempDir, "config.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(`
db_path: /tmp/prompts.db
log_level: debug
server:
  addr: 127.0.0.1:9000
optimizer:
  endpoint: https://example.com/api/optimize
  timeout: 45s
  cache_size: 0
`), 0o600))

	cfg, err := Load(path)
	s.Require().NoError(err)
	s.Equal("/tmp/prompts.db", cfg.DBPath)
	s.Equal("debug", cfg.LogLevel)
	s.Equal("127.0.0.1:9000", cfg.Server.Addr)
	s.Equal("https://example.com/api/optimize", cfg.Optimizer.Endpoint)
	s.Equal(45*time.Second, cfg.Optimizer.Timeout)
	s.Equal(0, cfg.Optimizer.CacheSize)
	s.Equal(DefaultCacheTTL, cfg.Optimizer.CacheTTL)
}

func (s *ConfigSuite) TestEnvOverridesFile() {
	path := filepath.Join(s.tempDir, "config.yaml")
	s.Require().NoError(os.WriteFile(path, []byte("optimizer:\n  endpoint: https://file.example\n"), 0o600))

	s.T().Setenv("PROMPTTUNE_ENDPOINT", "https://env.example")
	s.T().Setenv("PROMPTTUNE_API_KEY", "k")
	s.T().Setenv("PROMPTTUNE_DB", "/data/p.db")
	s.T().Setenv("PROMPTTUNE_ADDR", ":1234")

	cfg, err := Load(path)
	s.Require().NoError(err)
	s.Equal("https://env.example", cfg.Optimizer.Endpoint)
	s.Equal("k", cfg.Optimizer.APIKey)
	s.Equal("/data/p.db", cfg.DBPath)
	s.Equal(":1234", cfg.Server.Addr)
}

func (s *ConfigSuite) TestInvalid() {
	path := filepath.Join(s.tempDir, "config.yaml")

	s.Require().NoError(os.WriteFile(path, []byte("optimizer:\n  timeout: 0s\n"), 0o600))
	_, err := Load(path)
	s.ErrorContains(err, "timeout")

	s.Require().NoError(os.WriteFile(path, []byte("optimizer:\n  cache_size: -1\n"), 0o600))
	_, err = Load(path)
	s.ErrorContains(err, "cache_size")

	s.Require().NoError(os.WriteFile(path, []byte("server: [unclosed\n"), 0o600))
	_, err = Load(path)
	s.ErrorContains(err, "parse config")
}

func (s *ConfigSuite) TestSaveRoundTrip() {
	path := filepath.Join(s.tempDir, "nested", "config.yaml")
	cfg := Default()
	cfg.Optimizer.Endpoint = "https://example.com/optimize"
	cfg.Optimizer.Timeout = 5 * time.Second

	s.Require().NoError(cfg.Save(path))

	loaded, err := Load(path)
	s.Require().NoError(err)
	s.Equal(cfg, loaded)
}
