package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/jmorganca/ollama2gguf/cmd"
)

func main() {
	// an interrupt cancels the running conversion, which removes any
	// partially streamed artifact
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cobra.CheckErr(cmd.NewCLI().ExecuteContext(ctx))
}
