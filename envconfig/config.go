package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/go-homedir"

	"github.com/jmorganca/ollama2gguf/logutil"
)

const (
	DefaultRegistry        = "registry.ollama.ai"
	DefaultOutput          = "Output"
	defaultThreshold int64 = 1 << 30
	defaultChunkSize       = 16 << 20
)

// Var returns an environment variable stripped of leading and trailing
// quotes and spaces. Unset variables fall back to the config file.
func Var(key string) string {
	if v := strings.Trim(os.Getenv(key), "\"' "); v != "" {
		return v
	}

	return GetConfigValue(key)
}

// Models returns the ollama models directory, configured via OLLAMA_MODELS.
// It defaults to ~/.ollama/models.
func Models() string {
	if s := Var("OLLAMA_MODELS"); s != "" {
		p, err := homedir.Expand(s)
		if err != nil {
			slog.Warn("invalid models path", "OLLAMA_MODELS", s, "error", err)
			return s
		}

		return p
	}

	home, err := homedir.Dir()
	if err != nil {
		slog.Warn("unable to locate home directory", "error", err)
		return filepath.Join(".ollama", "models")
	}

	return filepath.Join(home, ".ollama", "models")
}

// Registry returns the registry whose manifests are listed, configured via
// OLLAMA_REGISTRY.
func Registry() string {
	if s := Var("OLLAMA_REGISTRY"); s != "" {
		return s
	}

	return DefaultRegistry
}

// Output returns the directory converted models are written to, configured
// via OLLAMA2GGUF_OUTPUT. It defaults to ./Output.
func Output() string {
	s := Var("OLLAMA2GGUF_OUTPUT")
	if s == "" {
		s = DefaultOutput
	}

	p, err := homedir.Expand(s)
	if err != nil {
		slog.Warn("invalid output path", "OLLAMA2GGUF_OUTPUT", s, "error", err)
		return s
	}

	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}

	return p
}

// Bool returns a function reading key as a boolean. Values that do not
// parse count as true.
func Bool(key string) func() bool {
	return func() bool {
		if s := Var(key); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}

			return b
		}

		return false
	}
}

// Int64 returns a function reading key as a positive integer, falling back
// to defaultValue when unset or invalid.
func Int64(key string, defaultValue int64) func() int64 {
	return func() int64 {
		if s := Var(key); s != "" {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil || n <= 0 {
				slog.Warn("invalid setting, ignoring", key, s, "error", err)
			} else {
				return n
			}
		}

		return defaultValue
	}
}

var (
	// Debug enables debug logging. Set via OLLAMA_DEBUG.
	Debug = Bool("OLLAMA_DEBUG")
	// Verify checks layer digests while converting. Set via OLLAMA2GGUF_VERIFY.
	Verify = Bool("OLLAMA2GGUF_VERIFY")
	// Threshold is the model size at which conversions stream instead of
	// buffering. Set via OLLAMA2GGUF_THRESHOLD.
	Threshold = Int64("OLLAMA2GGUF_THRESHOLD", defaultThreshold)
)

// LogLevel maps OLLAMA_DEBUG to a log level: unset or false is info, a
// level of 2 or more is trace, anything else is debug.
func LogLevel() slog.Level {
	s := Var("OLLAMA_DEBUG")
	if s == "" {
		return slog.LevelInfo
	}

	if n, err := strconv.Atoi(s); err == nil {
		switch {
		case n <= 0:
			return slog.LevelInfo
		case n == 1:
			return slog.LevelDebug
		default:
			return logutil.LevelTrace
		}
	}

	if b, err := strconv.ParseBool(s); err == nil && !b {
		return slog.LevelInfo
	}

	return slog.LevelDebug
}

// ChunkSize is the streaming read size. Set via OLLAMA2GGUF_CHUNK_SIZE.
func ChunkSize() int {
	return int(Int64("OLLAMA2GGUF_CHUNK_SIZE", defaultChunkSize)())
}

// Parallel is the number of models converted at once. Set via
// OLLAMA2GGUF_PARALLEL.
func Parallel() int {
	return int(Int64("OLLAMA2GGUF_PARALLEL", 1)())
}

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"OLLAMA_DEBUG":           {"OLLAMA_DEBUG", Debug(), "Show additional debug information (e.g. OLLAMA_DEBUG=1)"},
		"OLLAMA_MODELS":          {"OLLAMA_MODELS", Models(), "The path to the models directory"},
		"OLLAMA_REGISTRY":        {"OLLAMA_REGISTRY", Registry(), "Registry whose manifests are listed (default \"registry.ollama.ai\")"},
		"OLLAMA2GGUF_CONFIG":     {"OLLAMA2GGUF_CONFIG", configFile(), "Path to a TOML config file"},
		"OLLAMA2GGUF_OUTPUT":     {"OLLAMA2GGUF_OUTPUT", Output(), "Directory converted models are written to (default \"./Output\")"},
		"OLLAMA2GGUF_THRESHOLD":  {"OLLAMA2GGUF_THRESHOLD", Threshold(), "Model size in bytes at which conversion streams (default 1 GiB)"},
		"OLLAMA2GGUF_CHUNK_SIZE": {"OLLAMA2GGUF_CHUNK_SIZE", ChunkSize(), "Streaming chunk size in bytes (default 16 MiB)"},
		"OLLAMA2GGUF_PARALLEL":   {"OLLAMA2GGUF_PARALLEL", Parallel(), "Maximum number of models converted at once (default 1)"},
		"OLLAMA2GGUF_VERIFY":     {"OLLAMA2GGUF_VERIFY", Verify(), "Verify layer digests while converting"},
	}
}

func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
