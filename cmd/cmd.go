package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/jmorganca/ollama2gguf/envconfig"
	"github.com/jmorganca/ollama2gguf/logutil"
	"github.com/jmorganca/ollama2gguf/recombine"
	"github.com/jmorganca/ollama2gguf/version"
)

var errNoManifests = errors.New("no manifest files found")

// locations are the directories a command reads from and writes to.
type locations struct {
	manifests string
	blobs     string
	output    string
}

func locationsFromFlags(flags *pflag.FlagSet) locations {
	models := envconfig.Models()
	if s, _ := flags.GetString("models"); s != "" {
		models = s
	}

	registry := envconfig.Registry()
	if s, _ := flags.GetString("registry"); s != "" {
		registry = s
	}

	output := envconfig.Output()
	if s, _ := flags.GetString("output"); s != "" {
		if abs, err := filepath.Abs(s); err == nil {
			s = abs
		}
		output = s
	}

	return locations{
		manifests: filepath.Join(models, "manifests", registry),
		blobs:     filepath.Join(models, "blobs"),
		output:    output,
	}
}

// manifestPaths lists the manifests under loc, returning errNoManifests when
// there are none.
func (loc locations) manifestPaths() ([]string, error) {
	paths, err := recombine.Manifests(loc.manifests)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && len(paths) == 0) {
		return nil, errNoManifests
	} else if err != nil {
		return nil, err
	}

	return paths, nil
}

// ensureOutput creates the output directory if it does not exist.
func ensureOutput(dir string) error {
	if _, err := os.Stat(dir); err == nil {
		slog.Debug("output directory confirmed", "path", dir)
		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	slog.Info("output directory created", "path", dir)
	return nil
}

// selectManifests maps each argument to a manifest. An argument is either a
// 1-based index into paths, a model name, or name:tag.
func selectManifests(paths []string, args []string) ([]string, error) {
	var selected []string
	for _, arg := range args {
		if n, err := strconv.Atoi(arg); err == nil {
			if n < 1 || n > len(paths) {
				return nil, fmt.Errorf("invalid model number %d: choose between 1 and %d", n, len(paths))
			}

			selected = append(selected, paths[n-1])
			continue
		}

		name, tag, _ := strings.Cut(arg, ":")

		var matched bool
		for _, p := range paths {
			if recombine.ModelName(p) == name && (tag == "" || filepath.Base(p) == tag) {
				selected = append(selected, p)
				matched = true
			}
		}

		if !matched {
			return nil, fmt.Errorf("model %q not found", arg)
		}
	}

	return selected, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func initLogging(cmd *cobra.Command) {
	level := slog.LevelWarn
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelInfo
	}

	if envconfig.Debug() {
		level = envconfig.LogLevel()
	}

	slog.SetDefault(logutil.NewLogger(cmd.ErrOrStderr(), level))
	slog.Debug("configuration", "env", envconfig.Values())
}

func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "ollama2gguf",
		Short:        "Convert ollama models into standalone GGUF files",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Version: version.Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initLogging(cmd)
		},
		RunE: interactiveHandler,
	}

	rootCmd.PersistentFlags().String("models", "", "ollama models directory")
	rootCmd.PersistentFlags().String("registry", "", "registry whose manifests are used")
	rootCmd.PersistentFlags().StringP("output", "o", "", "directory converted models are written to")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log conversion progress")
	addConvertFlags(rootCmd.Flags())

	cobra.EnableCommandSorting = false

	listCmd := NewListCmd()
	convertCmd := NewConvertCmd()
	configCmd := NewConfigCmd()

	envVars := envconfig.AsMap()
	envs := []envconfig.EnvVar{envVars["OLLAMA_MODELS"], envVars["OLLAMA_REGISTRY"], envVars["OLLAMA2GGUF_OUTPUT"], envVars["OLLAMA2GGUF_CONFIG"], envVars["OLLAMA_DEBUG"]}
	for _, cmd := range []*cobra.Command{rootCmd, listCmd} {
		appendEnvDocs(cmd, envs)
	}

	appendEnvDocs(convertCmd, append(envs,
		envVars["OLLAMA2GGUF_THRESHOLD"],
		envVars["OLLAMA2GGUF_CHUNK_SIZE"],
		envVars["OLLAMA2GGUF_PARALLEL"],
		envVars["OLLAMA2GGUF_VERIFY"],
	))

	rootCmd.AddCommand(
		listCmd,
		convertCmd,
		configCmd,
	)

	return rootCmd
}
