package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-docparser/internal/app"
	"github.com/tendant/simple-docparser/internal/bus"
	"github.com/tendant/simple-docparser/internal/jobid"
	"github.com/tendant/simple-docparser/internal/pipeline"
	"github.com/tendant/simple-docparser/pkg/schema"
)

var (
	submitLocal   bool
	submitOut     string
	submitTimeout time.Duration
)

var submitCmd = &cobra.Command{
	Use:   "submit FILE",
	Short: "Upload a local file, process it and download the result zip",
	Long: `submit uploads FILE under uploads/, runs the job either in-process (--local)
or through a worker listening on NATS, and downloads the packaged result.`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().BoolVar(&submitLocal, "local", false, "run the pipeline in this process instead of sending it to a worker")
	submitCmd.Flags().StringVarP(&submitOut, "out", "o", ".", "directory the result zip is written to")
	submitCmd.Flags().DurationVar(&submitTimeout, "timeout", 30*time.Minute, "how long to wait for the job")
	rootCmd.AddCommand(submitCmd)
}

// uploadKey is where a submitted file is stored before processing.
func uploadKey(id, file string) string {
	return path.Join("uploads", id, filepath.Base(file))
}

// resultFile is the local path a published result is downloaded to.
func resultFile(dir, outputPath string) string {
	return filepath.Join(dir, "output_"+path.Base(outputPath))
}

func runSubmit(cmd *cobra.Command, args []string) error {
	file := args[0]
	if _, err := os.Stat(file); err != nil {
		return fmt.Errorf("input file: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	key := uploadKey(jobid.New(), file)
	if err := a.Client.Upload(ctx, key, file); err != nil {
		return err
	}
	logger.Info("uploaded input", "key", key)

	var reply schema.JobReply
	if submitLocal {
		res, err := a.Pipeline.Run(ctx, key)
		reply = pipeline.Reply(res, err)
	} else {
		reply, err = submitRemote(ctx, key)
		if err != nil {
			return err
		}
	}

	if err := printReply(cmd.OutOrStdout(), reply); err != nil {
		return err
	}
	if reply.Error != "" || reply.JobResult == nil {
		return fmt.Errorf("job failed at %s stage: %s", reply.Stage, reply.Error)
	}
	if started, err := jobid.Parse(reply.JobID); err == nil {
		logger.Info("job finished", "job_id", reply.JobID, "elapsed", time.Since(started).Round(time.Second))
	}

	if err := os.MkdirAll(submitOut, 0o755); err != nil {
		return err
	}
	dst := resultFile(submitOut, reply.OutputPath)
	if err := a.Client.Download(ctx, reply.OutputPath, dst); err != nil {
		return fmt.Errorf("download result: %w", err)
	}
	logger.Info("result downloaded", "path", dst, "documents", reply.ProcessedPDFs)
	return nil
}

// submitRemote sends the job to the worker queue and logs lifecycle events
// for it while waiting for the reply.
func submitRemote(ctx context.Context, key string) (schema.JobReply, error) {
	var reply schema.JobReply

	nc, err := bus.Connect(cfg.NATS.URL)
	if err != nil {
		return reply, fmt.Errorf("connect to NATS: %w", err)
	}
	defer nc.Close()

	sub, err := nc.SubscribeJSON(cfg.NATS.ResultSubject+".lifecycle", func(_ context.Context, data []byte) {
		var ev schema.JobLifecycleEvent
		if err := json.Unmarshal(data, &ev); err != nil || ev.ObjectPath != key {
			return
		}
		logger.Info("progress", "job_id", ev.JobID, "stage", ev.Stage, "err", ev.Error)
	})
	if err != nil {
		return reply, fmt.Errorf("subscribe lifecycle: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	req := schema.JobRequest{Input: schema.JobInput{ObjectPath: key}}
	if err := nc.RequestJSON(ctx, cfg.NATS.JobSubject, req, &reply); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return reply, fmt.Errorf("no reply within %s: %w", submitTimeout, err)
		}
		return reply, err
	}
	return reply, nil
}
