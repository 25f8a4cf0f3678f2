package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/go-homedir"
)

// Config is the TOML configuration file. Environment variables take
// precedence over anything set here.
type Config struct {
	Models struct {
		Path     string `toml:"path"`
		Registry string `toml:"registry"`
	} `toml:"models"`

	Output struct {
		Path string `toml:"path"`
	} `toml:"output"`

	Convert struct {
		Threshold int64 `toml:"threshold"`
		ChunkSize int64 `toml:"chunk_size"`
		Parallel  int   `toml:"parallel"`
		Verify    bool  `toml:"verify"`
	} `toml:"convert"`

	Logging struct {
		Debug bool `toml:"debug"`
	} `toml:"logging"`
}

var (
	configOnce sync.Once
	config     *Config
	configPath string
)

// GetConfigPaths returns the config file locations in the order they are
// tried. OLLAMA2GGUF_CONFIG, when set, is the only candidate.
func GetConfigPaths() []string {
	if p := os.Getenv("OLLAMA2GGUF_CONFIG"); p != "" {
		if expanded, err := homedir.Expand(p); err == nil {
			p = expanded
		}
		return []string{p}
	}

	var paths []string
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		paths = append(paths, filepath.Join(xdgConfig, "ollama2gguf", "config.toml"))
	}

	if home, err := homedir.Dir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "ollama2gguf", "config.toml"),
			filepath.Join(home, ".ollama", "ollama2gguf.toml"),
		)
	}

	return paths
}

// loadConfig loads the first available configuration file
func loadConfig() (*Config, string, error) {
	for _, path := range GetConfigPaths() {
		if _, err := os.Stat(path); err == nil {
			var cfg Config
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return nil, "", fmt.Errorf("error parsing config file %s: %w", path, err)
			}
			return &cfg, path, nil
		}
	}
	return nil, "", nil
}

func loadOnce() {
	configOnce.Do(func() {
		var err error
		config, configPath, err = loadConfig()
		if err != nil {
			slog.Warn("failed to load config file", "error", err)
		} else if config != nil {
			slog.Debug("loaded config file", "path", configPath)
		}
	})
}

// Reload discards the cached config file and home directory so they are
// read again on next use.
func Reload() {
	configOnce = sync.Once{}
	config = nil
	configPath = ""
	homedir.Reset()
}

func configFile() string {
	loadOnce()
	return configPath
}

// GetConfigValue returns the config file value for an environment variable
// key, or the empty string.
func GetConfigValue(key string) string {
	loadOnce()
	if config == nil {
		return ""
	}

	switch key {
	case "OLLAMA_MODELS":
		return config.Models.Path
	case "OLLAMA_REGISTRY":
		return config.Models.Registry
	case "OLLAMA2GGUF_OUTPUT":
		return config.Output.Path
	case "OLLAMA2GGUF_THRESHOLD":
		if config.Convert.Threshold > 0 {
			return fmt.Sprintf("%d", config.Convert.Threshold)
		}
	case "OLLAMA2GGUF_CHUNK_SIZE":
		if config.Convert.ChunkSize > 0 {
			return fmt.Sprintf("%d", config.Convert.ChunkSize)
		}
	case "OLLAMA2GGUF_PARALLEL":
		if config.Convert.Parallel > 0 {
			return fmt.Sprintf("%d", config.Convert.Parallel)
		}
	case "OLLAMA2GGUF_VERIFY":
		if config.Convert.Verify {
			return "true"
		}
	case "OLLAMA_DEBUG":
		if config.Logging.Debug {
			return "true"
		}
	}

	return ""
}

// GenerateExampleConfig returns a commented example TOML configuration
func GenerateExampleConfig() string {
	return `# ollama2gguf configuration file
# Environment variables override these values; command line flags override both.

[models]
# Ollama models directory (default: "~/.ollama/models")
path = "~/.ollama/models"
# Registry whose manifests are listed (default: "registry.ollama.ai")
registry = "registry.ollama.ai"

[output]
# Directory converted models are written to (default: "./Output")
path = "Output"

[convert]
# Model size in bytes at which conversion streams instead of buffering (default: 1 GiB)
threshold = 1073741824
# Streaming chunk size in bytes (default: 16 MiB)
chunk_size = 16777216
# Number of models converted at once (default: 1)
parallel = 1
# Verify layer digests while converting (default: false)
verify = false

[logging]
# Enable debug logging (default: false)
debug = false
`
}
