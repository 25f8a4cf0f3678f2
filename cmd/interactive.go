package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmorganca/ollama2gguf/recombine"
)

// interactiveHandler shows a numbered menu of models and converts the one
// chosen, until the user enters 0 or input ends.
func interactiveHandler(cmd *cobra.Command, args []string) error {
	loc := locationsFromFlags(cmd.Flags())
	stdout := cmd.OutOrStdout()

	fmt.Fprintln(stdout, "\nOllama To GGUF")
	fmt.Fprintf(stdout, "\nManifest Directory: %s\n", loc.manifests)
	fmt.Fprintf(stdout, "Blob Directory: %s\n", loc.blobs)
	fmt.Fprintf(stdout, "Output Models Directory: %s\n", loc.output)

	if err := ensureOutput(loc.output); err != nil {
		return err
	}

	paths, err := loc.manifestPaths()
	if errors.Is(err, errNoManifests) {
		fmt.Fprintln(stdout, "No manifest files found.")
		return nil
	} else if err != nil {
		return err
	}

	opts, err := optionsFromFlags(cmd.Flags())
	if err != nil {
		return err
	}

	blobs := recombine.NewBlobStore(loc.blobs)
	conv := recombine.NewConverter(blobs, loc.output, opts)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprintln(stdout, "\nAvailable Ollama Models to Convert:")
		fmt.Fprintln(stdout)
		writeModels(stdout, summarize(paths, blobs), "")

		fmt.Fprint(stdout, "\nEnter the number of the model you want to convert (or 0 to exit): ")
		if !scanner.Scan() {
			fmt.Fprintln(stdout)
			return scanner.Err()
		}

		choice, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
		switch {
		case err != nil:
			fmt.Fprintln(stdout, "Invalid input. Please enter a number.")
		case choice == 0:
			fmt.Fprintln(stdout, "Exiting.")
			return nil
		case choice < 1 || choice > len(paths):
			fmt.Fprintln(stdout, "Invalid choice. Please enter a valid number.")
		default:
			// failures are reported by convertManifests; keep the menu open
			_ = convertManifests(cmd.Context(), conv, paths[choice-1:choice], 1, stdout, cmd.ErrOrStderr())
		}
	}
}
