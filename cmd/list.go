package cmd

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/jmorganca/ollama2gguf/api"
	"github.com/jmorganca/ollama2gguf/format"
	"github.com/jmorganca/ollama2gguf/recombine"
)

func NewListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list [PREFIX]",
		Aliases: []string{"ls"},
		Short:   "List models available to convert",
		Args:    cobra.MaximumNArgs(1),
		RunE:    listHandler,
	}

	return cmd
}

func listHandler(cmd *cobra.Command, args []string) error {
	loc := locationsFromFlags(cmd.Flags())

	paths, err := loc.manifestPaths()
	if errors.Is(err, errNoManifests) {
		fmt.Fprintln(cmd.ErrOrStderr(), "No manifest files found.")
		return nil
	} else if err != nil {
		return err
	}

	var prefix string
	if len(args) > 0 {
		prefix = args[0]
	}

	writeModels(cmd.OutOrStdout(), summarize(paths, recombine.NewBlobStore(loc.blobs)), prefix)
	return nil
}

func summarize(paths []string, blobs *recombine.BlobStore) []api.ModelSummary {
	summaries := make([]api.ModelSummary, len(paths))
	for i, p := range paths {
		summaries[i] = recombine.Summarize(p, blobs)
	}

	return summaries
}

func writeModels(w io.Writer, models []api.ModelSummary, prefix string) {
	var data [][]string
	for i, m := range models {
		if prefix != "" && !strings.HasPrefix(strings.ToLower(m.Name), strings.ToLower(prefix)) {
			continue
		}

		size := recombine.Unknown
		if m.Size > 0 {
			size = format.HumanBytes2(m.Size)
		}

		data = append(data, []string{strconv.Itoa(i + 1), m.Name, m.Manifest, m.Quantization, size})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "NAME", "TAG", "QUANTIZATION", "SIZE"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}
