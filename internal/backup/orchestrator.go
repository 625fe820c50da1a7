package backup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/lance0/HostHoover/internal/device"
	"github.com/lance0/HostHoover/internal/probe"
)

const DefaultWorkers = 15

// FileWriter stores one configuration under the first free name.
type FileWriter interface {
	WriteUnique(candidates []string, content string) (string, error)
}

// Notifier is told about every target that did not end in success.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// Recorder is told about every configuration that was written.
type Recorder interface {
	Record(ctx context.Context, path, message string) error
}

// StatusLogger keeps a line-per-host audit trail.
type StatusLogger interface {
	Log(message string) error
}

// Archiver bundles the output directory once all tasks are done.
type Archiver interface {
	Archive(ctx context.Context, dir, format string) (path string, files int, err error)
}

// Publisher ships the finished archive somewhere else.
type Publisher interface {
	Publish(ctx context.Context, localPath string) (remotePath string, err error)
}

// Options is the run context shared by every task. Nothing in it changes once
// Run has started.
type Options struct {
	Profile     device.Profile
	Credentials device.Credentials
	Client      device.Client
	Prober      probe.Prober
	Writer      FileWriter

	// Workers bounds the number of targets in flight.
	Workers int
	// Rate caps new sessions per second. Zero disables the limit.
	Rate float64

	OutputDir     string
	ArchiveFormat string
	Archiver      Archiver
	Publisher     Publisher

	Notifier  Notifier
	Recorder  Recorder
	StatusLog StatusLogger
	// OnOutcome is called from the aggregating goroutine, one outcome at a time.
	OnOutcome func(runID string, out Outcome)

	Log logrus.FieldLogger
	Now func() time.Time
}

type Orchestrator struct {
	opts    Options
	limiter *rate.Limiter
	log     logrus.FieldLogger
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Client == nil {
		return nil, errors.New("backup: a device client is required")
	}
	if opts.Writer == nil {
		return nil, errors.New("backup: a file writer is required")
	}
	if err := opts.Credentials.Validate(); err != nil {
		return nil, err
	}
	if opts.Archiver != nil && opts.OutputDir == "" {
		return nil, errors.New("backup: archiving needs an output directory")
	}
	if opts.Prober == nil {
		opts.Prober = probe.Always{}
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Log == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		opts.Log = l
	}

	o := &Orchestrator{opts: opts, log: opts.Log}
	if opts.Rate > 0 {
		o.limiter = rate.NewLimiter(rate.Limit(opts.Rate), 1)
	}
	return o, nil
}

// Run backs up every target and returns the finished summary.
//
// At most Workers targets are in flight at once. Cancelling ctx stops
// dispatching: targets not yet started are recorded as cancelled while the
// ones already running finish on their own timeouts. Archiving starts only
// after every task has returned.
func (o *Orchestrator) Run(ctx context.Context, targets []string) Summary {
	runID := uuid.New().String()
	log := o.log.WithField("run_id", runID)
	summary := newSummary(runID, len(targets), o.opts.Now())

	// In-flight tasks and the archive step must outlive a cancelled run.
	taskCtx := context.WithoutCancel(ctx)

	jobs := make(chan string)
	results := make(chan Outcome, o.opts.Workers)

	var wg sync.WaitGroup
	for i := 0; i < o.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				results <- o.task(taskCtx, t)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(jobs)
		o.dispatch(ctx, targets, jobs, results)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	log.Infof("Backing up %d targets with %d workers", len(targets), o.opts.Workers)
	for out := range results {
		summary.Counts[out.Status]++
		o.observe(log, runID, out)
	}
	summary.Finished = o.opts.Now()

	if o.opts.Archiver != nil {
		o.archive(taskCtx, log, &summary)
	}
	return summary
}

func (o *Orchestrator) dispatch(ctx context.Context, targets []string, jobs chan<- string, results chan<- Outcome) {
	for i, t := range targets {
		if ctx.Err() == nil && o.limiter != nil {
			_ = o.limiter.Wait(ctx)
		}
		if ctx.Err() != nil {
			o.cancelRest(ctx, targets[i:], results)
			return
		}
		select {
		case jobs <- t:
		case <-ctx.Done():
			o.cancelRest(ctx, targets[i:], results)
			return
		}
	}
}

func (o *Orchestrator) cancelRest(ctx context.Context, rest []string, results chan<- Outcome) {
	o.log.Warnf("Run cancelled; %d targets not started", len(rest))
	for _, t := range rest {
		results <- Outcome{Target: t, Status: StatusCancelled, Err: context.Cause(ctx)}
	}
}

// observe runs on the aggregating goroutine.
func (o *Orchestrator) observe(log logrus.FieldLogger, runID string, out Outcome) {
	entry := log.WithFields(logrus.Fields{"target": out.Target, "status": out.Status})
	switch out.Status {
	case StatusSuccess:
		entry.Info(out.String())
	case StatusCancelled:
		entry.Debug(out.String())
	default:
		entry.Warn(out.String())
	}
	if o.opts.StatusLog != nil && out.Status != StatusCancelled {
		if err := o.opts.StatusLog.Log(out.String()); err != nil {
			log.WithError(err).Debug("status log write failed")
		}
	}
	if o.opts.OnOutcome != nil {
		o.opts.OnOutcome(runID, out)
	}
}

func (o *Orchestrator) archive(ctx context.Context, log logrus.FieldLogger, s *Summary) {
	path, n, err := o.opts.Archiver.Archive(ctx, o.opts.OutputDir, o.opts.ArchiveFormat)
	if err != nil {
		s.ArchiveErr = err
		log.WithError(err).Error("Archive creation failed")
		return
	}
	s.ArchivePath, s.ArchiveFiles = path, n
	log.Infof("Created archive %s with %d files", path, n)

	if o.opts.Publisher == nil {
		return
	}
	remote, err := o.opts.Publisher.Publish(ctx, path)
	if err != nil {
		s.PublishErr = fmt.Errorf("publish %s: %w", path, err)
		log.WithError(err).Error("Archive upload failed")
		return
	}
	s.PublishedPath = remote
	log.Infof("Uploaded archive to %s", remote)
}
