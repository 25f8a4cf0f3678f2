package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/jmorganca/ollama2gguf/envconfig"
	"github.com/jmorganca/ollama2gguf/format"
	"github.com/jmorganca/ollama2gguf/recombine"
)

func addConvertFlags(flags *pflag.FlagSet) {
	flags.String("strategy", "auto", "assembly strategy: auto, buffered or streamed")
	flags.Int64("threshold", 0, "model size in bytes at which auto selects streamed (default 1 GiB)")
	flags.Int("chunk-size", 0, "streamed read size in bytes (default 16 MiB)")
	flags.Bool("verify", false, "verify layer digests while converting")
	flags.Int("parallel", 0, "number of models converted at once (default 1)")
}

func NewConvertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert [MODEL|NUMBER ...]",
		Short: "Convert models into GGUF files",
		Long: `Convert models into GGUF files.

Models are selected by name, name:tag, or by their number in "ollama2gguf list".
Each model is written to <output>/<name>/<name>-<model_type>-<file_type>.gguf.`,
		RunE: convertHandler,
	}

	cmd.Flags().Bool("all", false, "convert every model")
	addConvertFlags(cmd.Flags())
	return cmd
}

func optionsFromFlags(flags *pflag.FlagSet) (recombine.Options, error) {
	s, _ := flags.GetString("strategy")
	strategy, err := recombine.ParseStrategy(s)
	if err != nil {
		return recombine.Options{}, err
	}

	opts := recombine.Options{
		Strategy:  strategy,
		Threshold: envconfig.Threshold(),
		ChunkSize: envconfig.ChunkSize(),
		Verify:    envconfig.Verify(),
	}

	if n, _ := flags.GetInt64("threshold"); n > 0 {
		opts.Threshold = n
	}

	if n, _ := flags.GetInt("chunk-size"); n > 0 {
		opts.ChunkSize = n
	}

	if flags.Changed("verify") {
		opts.Verify, _ = flags.GetBool("verify")
	}

	return opts, nil
}

func parallelFromFlags(flags *pflag.FlagSet) int {
	if n, _ := flags.GetInt("parallel"); n > 0 {
		return n
	}

	return envconfig.Parallel()
}

func convertHandler(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	if !all && len(args) == 0 {
		return errors.New("specify at least one model or use --all")
	}

	loc := locationsFromFlags(cmd.Flags())
	paths, err := loc.manifestPaths()
	if err != nil {
		return err
	}

	if !all {
		paths, err = selectManifests(paths, args)
		if err != nil {
			return err
		}
	}

	opts, err := optionsFromFlags(cmd.Flags())
	if err != nil {
		return err
	}

	if err := ensureOutput(loc.output); err != nil {
		return err
	}

	conv := recombine.NewConverter(recombine.NewBlobStore(loc.blobs), loc.output, opts)
	return convertManifests(cmd.Context(), conv, paths, parallelFromFlags(cmd.Flags()), cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// job is a run of manifests that resolve to the same artifact. They are
// converted one after another in the order given.
type job struct {
	target string
	paths  []string
}

// groupByTarget groups paths by the artifact they produce, preserving their
// order. A manifest that cannot be resolved gets a job of its own and fails
// when converted.
func groupByTarget(conv *recombine.Converter, paths []string) []*job {
	var jobs []*job
	byTarget := make(map[string]*job)
	for _, p := range paths {
		m, err := conv.Resolve(p)
		if err != nil {
			jobs = append(jobs, &job{paths: []string{p}})
			continue
		}

		target := conv.Target(m)
		if j, ok := byTarget[target]; ok {
			j.paths = append(j.paths, p)
			continue
		}

		j := &job{target: target, paths: []string{p}}
		byTarget[target] = j
		jobs = append(jobs, j)
	}

	return jobs
}

// modelTag names a manifest as name:tag.
func modelTag(manifestPath string) string {
	return recombine.ModelName(manifestPath) + ":" + filepath.Base(manifestPath)
}

// convertManifests converts each manifest, at most parallel at a time.
// Manifests sharing an artifact path are never converted concurrently. A
// failed conversion does not stop the others.
func convertManifests(ctx context.Context, conv *recombine.Converter, paths []string, parallel int, stdout, stderr io.Writer) error {
	if parallel < 1 {
		parallel = 1
	}

	interactive := parallel == 1 && isTerminal(stderr)

	var mu sync.Mutex
	var failed []string

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for _, j := range groupByTarget(conv, paths) {
		if len(j.paths) > 1 {
			slog.Debug("converting manifests in sequence", "path", j.target, "manifests", j.paths)
		}

		j := j // per-iteration copy (pre-Go 1.22 loop semantics)
		g.Go(func() error {
			// last manifest written to j.target in this run
			var written string
			for _, p := range j.paths {
				name := recombine.ModelName(p)

				var r renderer = newLogRenderer(uuid.NewString())
				if interactive {
					r = newTerminalRenderer(stderr)
				}

				result, err := conv.Convert(ctx, p, r.handle)
				r.stop()

				mu.Lock()
				if err != nil {
					failed = append(failed, name)
					fmt.Fprintf(stderr, "Error: %v\n", err)
					fmt.Fprintf(stdout, "Conversion failed for %s.\n", name)
					mu.Unlock()
					continue
				}

				if written != "" {
					slog.Warn("artifact overwritten", "path", result.Path, "manifest", modelTag(p), "previous", written)
					fmt.Fprintf(stderr, "Warning: %s replaced %s written from %s\n", modelTag(p), result.Path, written)
				}

				fmt.Fprintf(stdout, "Successfully created %s (%s)\n", result.Path, format.HumanBytes2(result.Size))
				fmt.Fprintf(stdout, "Successfully converted %s to GGUF.\n", name)
				mu.Unlock()

				written = modelTag(p)
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if len(failed) > 0 {
		slog.Debug("conversions failed", "models", failed)
		return fmt.Errorf("%d of %d conversions failed", len(failed), len(paths))
	}

	return nil
}
