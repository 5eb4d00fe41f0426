// Package pipeline runs one parse job end to end: assign an id, stage the
// input, convert, package, publish, and always clean up.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/tendant/simple-docparser/internal/archive"
	"github.com/tendant/simple-docparser/internal/dispatch"
	"github.com/tendant/simple-docparser/internal/jobid"
	"github.com/tendant/simple-docparser/internal/process"
	"github.com/tendant/simple-docparser/internal/resolver"
	"github.com/tendant/simple-docparser/internal/workspace"
	"github.com/tendant/simple-docparser/pkg/schema"
)

const jobKind = "docparse"

type IDSource interface {
	New() string
}

type Resolver interface {
	Resolve(ctx context.Context, key string, ws *workspace.Workspace) (resolver.Manifest, error)
}

type Publisher interface {
	Publish(ctx context.Context, artifactPath, jobID string) (string, error)
}

// Packager zips srcDir into dst.
type Packager func(srcDir, dst string) (*archive.Artifact, error)

// Observer receives lifecycle events as stages finish and a summary when the
// job ends. Implementations must not block.
type Observer interface {
	Lifecycle(ev schema.JobLifecycleEvent)
	Done(done schema.JobDone)
}

// Observers fans events out to several observers.
type Observers []Observer

func (o Observers) Lifecycle(ev schema.JobLifecycleEvent) {
	for _, obs := range o {
		obs.Lifecycle(ev)
	}
}

func (o Observers) Done(done schema.JobDone) {
	for _, obs := range o {
		obs.Done(done)
	}
}

type nopObserver struct{}

func (nopObserver) Lifecycle(schema.JobLifecycleEvent) {}
func (nopObserver) Done(schema.JobDone)                {}

type Pipeline struct {
	workDir    string
	ids        IDSource
	resolver   Resolver
	dispatcher dispatch.Dispatcher
	publisher  Publisher
	pack       Packager
	observer   Observer
	onRelease  func(jobID string, err error)
	logger     *slog.Logger
}

type Option func(*Pipeline)

func WithLogger(l *slog.Logger) Option { return func(p *Pipeline) { p.logger = l } }

func WithIDSource(ids IDSource) Option { return func(p *Pipeline) { p.ids = ids } }

func WithPackager(fn Packager) Option { return func(p *Pipeline) { p.pack = fn } }

func WithObserver(o Observer) Option { return func(p *Pipeline) { p.observer = o } }

// WithReleaseHook is called after each workspace release attempt.
func WithReleaseHook(fn func(jobID string, err error)) Option {
	return func(p *Pipeline) { p.onRelease = fn }
}

// New builds a pipeline that stages jobs under workDir.
func New(workDir string, res Resolver, d dispatch.Dispatcher, pub Publisher, opts ...Option) *Pipeline {
	p := &Pipeline{
		workDir:    workDir,
		ids:        jobid.Generator{},
		resolver:   res,
		dispatcher: d,
		publisher:  pub,
		pack:       archive.Pack,
		observer:   nopObserver{},
		onRelease:  func(string, error) {},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) Mode() dispatch.Mode { return p.dispatcher.Mode() }

// run carries the per-job state shared by the stages.
type run struct {
	p         *Pipeline
	job       *process.Job
	key       string
	start     time.Time
	logger    *slog.Logger
	lifecycle []schema.JobLifecycleEvent
	manifest  resolver.Manifest
	outcome   *dispatch.Outcome
	result    *schema.JobResult
}

// step runs fn as stage, emits its lifecycle event and advances the job to
// next on success.
func (r *run) step(ctx context.Context, stage schema.ProcessingStage, next process.State, fn func(context.Context) error) error {
	started := time.Now()
	err := ctx.Err()
	if err == nil {
		err = fn(ctx)
	}

	ev := schema.JobLifecycleEvent{
		JobID:           r.job.ID,
		ObjectPath:      r.key,
		Stage:           stage,
		Documents:       len(r.manifest),
		ProcessingStart: started.UnixMilli(),
		ProcessingEnd:   time.Now().UnixMilli(),
		HappenedAt:      time.Now().Unix(),
	}
	if err != nil {
		perr := stageError(r.job.ID, stage, err)
		ev.Error = err.Error()
		ev.FailureType = Classify(perr)
		r.lifecycle = append(r.lifecycle, ev)
		r.p.observer.Lifecycle(ev)
		r.logger.Error("stage failed", "stage", stage, "err", err, "failure_type", ev.FailureType)
		return perr
	}

	r.lifecycle = append(r.lifecycle, ev)
	r.p.observer.Lifecycle(ev)
	r.logger.Debug("stage finished", "stage", stage, "duration_ms", ev.ProcessingEnd-ev.ProcessingStart)
	return r.job.Advance(next)
}

// Run processes the object at key and returns where the packaged output was
// published. Any stage failure aborts the job with an *Error; the workspace
// is removed on every exit once it has been created.
func (p *Pipeline) Run(ctx context.Context, key string) (*schema.JobResult, error) {
	id := p.ids.New()
	job := process.NewJob(jobKind, id, key)
	process.MarkRunning(job)
	_ = job.Advance(process.StateIDAssigned)

	r := &run{
		p:      p,
		job:    job,
		key:    key,
		start:  time.Now(),
		logger: p.logger.With("job_id", id),
	}
	r.logger.Info("job started", "key", key, "mode", p.dispatcher.Mode())

	err := r.execute(ctx)
	p.finish(r, err)
	if err != nil {
		return nil, err
	}
	return r.result, nil
}

func (r *run) execute(ctx context.Context) error {
	p := r.p
	var ws *workspace.Workspace
	err := r.step(ctx, schema.StageWorkspace, process.StateWorkspaceReady, func(context.Context) error {
		var err error
		ws, err = workspace.Acquire(p.workDir, r.job.ID)
		return err
	})
	if err != nil {
		return err
	}
	defer func() {
		rerr := ws.Release()
		if rerr != nil {
			r.logger.Warn("workspace cleanup failed", "root", ws.Root(), "err", rerr)
		}
		p.onRelease(r.job.ID, rerr)
	}()

	err = r.step(ctx, schema.StageInput, process.StateInputResolved, func(ctx context.Context) error {
		m, err := p.resolver.Resolve(ctx, r.key, ws)
		if err != nil {
			return err
		}
		if len(m) == 0 {
			return resolver.ErrNoDocuments
		}
		r.manifest = m
		return nil
	})
	if err != nil {
		return err
	}
	r.logger.Info("input resolved", "documents", len(r.manifest), "pages", r.manifest.Pages())

	err = r.step(ctx, schema.StageConvert, process.StateConverted, func(ctx context.Context) error {
		out, err := ws.EnsureZone(workspace.ZoneOutput)
		if err != nil {
			return err
		}
		staging, err := ws.EnsureZone(workspace.ZoneStaging)
		if err != nil {
			return err
		}
		r.outcome, err = p.dispatcher.Dispatch(ctx, r.manifest, dispatch.Target{OutputDir: out, StagingDir: staging})
		return err
	})
	if err != nil {
		return err
	}
	r.logger.Info("conversion finished", "converter", r.outcome.Converter, "duration_ms", r.outcome.Duration.Milliseconds())

	var artifact *archive.Artifact
	err = r.step(ctx, schema.StagePackage, process.StatePackaged, func(context.Context) error {
		if _, err := ws.EnsureZone(workspace.ZonePackage); err != nil {
			return err
		}
		var err error
		artifact, err = p.pack(ws.OutputDir(), ws.ArtifactPath())
		return err
	})
	if err != nil {
		return err
	}
	r.logger.Info("output packaged", "entries", artifact.Entries, "size", artifact.Size)

	var outputPath string
	err = r.step(ctx, schema.StagePublish, process.StatePublished, func(ctx context.Context) error {
		var err error
		outputPath, err = p.publisher.Publish(ctx, artifact.Path, r.job.ID)
		return err
	})
	if err != nil {
		return err
	}

	r.result = &schema.JobResult{
		JobID:          r.job.ID,
		OutputPath:     outputPath,
		ProcessedPDFs:  len(r.manifest),
		ProcessedPages: r.manifest.Pages(),
		Mode:           string(r.outcome.Mode),
	}
	return r.job.Advance(process.StateDone)
}

func (p *Pipeline) finish(r *run, err error) {
	elapsed := time.Since(r.start)
	done := schema.JobDone{
		JobID:            r.job.ID,
		ObjectPath:       r.key,
		TotalProcessed:   len(r.manifest),
		TotalPages:       r.manifest.Pages(),
		ProcessingTimeMs: elapsed.Milliseconds(),
		HappenedAt:       time.Now().Unix(),
	}
	durations := map[string]time.Duration{}
	if r.outcome != nil {
		done.Mode = string(r.outcome.Mode)
		for _, res := range r.outcome.Results {
			durations[res.Name] = res.Duration
		}
	}
	for _, e := range r.manifest {
		done.Documents = append(done.Documents, schema.DocumentResult{
			Name:       e.Name,
			Kind:       string(e.Kind),
			Pages:      e.Pages,
			DurationMs: durations[e.Name].Milliseconds(),
		})
	}

	final := schema.JobLifecycleEvent{
		JobID:           r.job.ID,
		ObjectPath:      r.key,
		Documents:       len(r.manifest),
		ProcessingStart: r.start.UnixMilli(),
		ProcessingEnd:   time.Now().UnixMilli(),
		HappenedAt:      time.Now().Unix(),
	}

	if err != nil {
		process.MarkFailed(r.job, err)
		final.Stage = schema.StageFailed
		final.Error = err.Error()
		final.FailureType = Classify(err)
		done.Error = err.Error()
		done.Stage = StageOf(err)
		done.FailureType = final.FailureType
		r.logger.Error("job failed", "stage", done.Stage, "failure_type", done.FailureType, "err", err, "processing_time_ms", done.ProcessingTimeMs)
	} else {
		final.Stage = schema.StageCompleted
		done.OutputPath = r.result.OutputPath
		r.logger.Info("job completed", "output_path", r.result.OutputPath, "documents", r.result.ProcessedPDFs, "pages", r.result.ProcessedPages, "processing_time_ms", done.ProcessingTimeMs)
	}

	r.lifecycle = append(r.lifecycle, final)
	p.observer.Lifecycle(final)
	done.Lifecycle = r.lifecycle
	p.observer.Done(done)
}
