package commands

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-docparser/internal/app"
	"github.com/tendant/simple-docparser/internal/pipeline"
	"github.com/tendant/simple-docparser/pkg/schema"
)

var runCmd = &cobra.Command{
	Use:   "run OBJECT_KEY",
	Short: "Process one object from storage and print the result",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Pipeline.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Pipeline.JobTimeout)
		defer cancel()
	}

	res, err := a.Pipeline.Run(ctx, args[0])
	if werr := printReply(cmd.OutOrStdout(), pipeline.Reply(res, err)); werr != nil {
		return werr
	}
	return err
}

func printReply(w io.Writer, reply schema.JobReply) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(reply)
}
