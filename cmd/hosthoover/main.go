package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	scraplilogging "github.com/scrapli/scrapligo/logging"
	"github.com/sirupsen/logrus"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/lance0/HostHoover/internal/archive"
	"github.com/lance0/HostHoover/internal/backup"
	"github.com/lance0/HostHoover/internal/config"
	"github.com/lance0/HostHoover/internal/device"
	"github.com/lance0/HostHoover/internal/history"
	"github.com/lance0/HostHoover/internal/metrics"
	"github.com/lance0/HostHoover/internal/notify"
	"github.com/lance0/HostHoover/internal/probe"
	"github.com/lance0/HostHoover/internal/publish"
	"github.com/lance0/HostHoover/internal/store"
	"github.com/lance0/HostHoover/internal/target"
	"github.com/lance0/HostHoover/internal/vcs"
)

func main() {
	_, _ = maxprocs.Set()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(os.Args[1:], os.Getenv, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		if isUsageError(err) {
			exitWithUsage(log, err)
		}
		fatalf(log, "%v", err)
	}
	if err := cfg.Validate(); err != nil {
		if isUsageError(err) {
			exitWithUsage(log, err)
		}
		fatalf(log, "%v", err)
	}

	var scrapliLogger *scraplilogging.Instance
	if cfg.Debug {
		log.SetLevel(logrus.DebugLevel)
		l, err := scraplilogging.NewInstance(
			scraplilogging.WithLevel("debug"),
			scraplilogging.WithLogger(func(a ...any) { log.Debug(a...) }),
		)
		if err != nil {
			log.Warnf("failed to enable scrapli debug logger: %v", err)
		} else {
			scrapliLogger = l
		}
	}

	var repo *history.Repo
	if cfg.HistoryDB != "" {
		repo, err = history.Open(cfg.HistoryDB)
		if err != nil {
			fatalf(log, "%v", err)
		}
		defer repo.Close()
	}
	if cfg.ShowHistory > 0 {
		entries, err := repo.ListRecent(context.Background(), cfg.ShowHistory)
		if err != nil {
			fatalf(log, "failed to read history: %v", err)
		}
		printHistory(os.Stdout, entries)
		return
	}

	// Everything below is checked before the first device is contacted.
	targets, err := target.ExpandLimit(cfg.Subnet, cfg.MaxTargets)
	if err != nil {
		fatalf(log, "%v", err)
	}
	creds := cfg.Credentials()
	if creds.KeyPath != "" {
		if _, err := creds.Signer(); err != nil {
			fatalf(log, "%v", err)
		}
	}
	writer := store.NewWriter(cfg.OutputDir)
	if err := writer.EnsureDir(); err != nil {
		fatalf(log, "failed to create output dir: %v", err)
	}

	profile := cfg.Profile()
	if !device.KnownFamily(profile.Family) {
		log.Warnf("Unknown device type %q; passing it to scrapligo as a platform name", cfg.DeviceType)
	}

	client := device.NewScrapliClient(log, cfg.Retries, 0)
	client.Debug = scrapliLogger

	opts := backup.Options{
		Profile:     profile,
		Credentials: creds,
		Client:      client,
		Prober:      probe.New(cfg.Probe, cfg.PingAttempts, cfg.PingTimeout, profile.Port),
		Writer:      writer,
		Workers:     cfg.Workers,
		Rate:        cfg.Rate,
		OutputDir:   cfg.OutputDir,
		StatusLog:   store.NewStatusLog(cfg.OutputDir),
		Log:         log,
	}
	if !cfg.NoArchive {
		arch := archive.New()
		if err := arch.Supported(cfg.ArchiveFormat); err != nil {
			fatalf(log, "%v", err)
		}
		opts.Archiver = arch
		opts.ArchiveFormat = cfg.ArchiveFormat
		if cfg.Publish != nil {
			pub := publish.NewSFTP(*cfg.Publish, creds)
			log.Infof("Archives will be uploaded to %s", pub.Target())
			opts.Publisher = pub
		}
	}
	if cfg.SMTP != nil {
		opts.Notifier = notify.NewSMTP(*cfg.SMTP)
	}
	if cfg.Git {
		g := vcs.NewGit(cfg.OutputDir)
		if err := g.Check(context.Background()); err != nil {
			fatalf(log, "-git: %v", err)
		}
		opts.Recorder = g
	}

	var hist *history.Writer
	if repo != nil {
		hist = history.NewWriter(repo, log, 0, 0)
		opts.OnOutcome = func(runID string, out backup.Outcome) {
			hist.Write(historyEntry(runID, out, time.Now()))
		}
	}

	orch, err := backup.New(opts)
	if err != nil {
		fatalf(log, "%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		// Restore default handling so a second signal kills the process.
		stop()
	}()

	log.Infof("Starting backup of %s (%d hosts) as %s", cfg.Subnet, len(targets), creds)
	summary := orch.Run(ctx, targets)

	if hist != nil {
		hist.Close()
	}
	if cfg.MetricsFile != "" {
		m := metrics.NewRun()
		m.Observe(summary)
		if err := m.WriteTextfile(cfg.MetricsFile); err != nil {
			log.Warn(err)
		}
	}
	printSummary(os.Stdout, summary)

	if ctx.Err() != nil {
		stop()
		os.Exit(130)
	}
}

func isUsageError(err error) bool {
	return errors.Is(err, config.ErrUsage) ||
		errors.Is(err, device.ErrMissingCredentials) ||
		errors.Is(err, device.ErrConflictingCredentials)
}

func exitWithUsage(log logrus.FieldLogger, err error) {
	if err != nil {
		log.Error(err)
	}
	log.Info("Usage: hosthoover -u <user> (-p <password> | -k <key>) [flags] <subnet>")
	log.Info("Run hosthoover -h for the full flag list")
	os.Exit(2)
}

func fatalf(log logrus.FieldLogger, format string, args ...any) {
	log.Fatalf(format, args...)
}

func historyEntry(runID string, out backup.Outcome, finished time.Time) history.Entry {
	e := history.Entry{
		RunID:      runID,
		Target:     out.Target,
		Status:     string(out.Status),
		Hostname:   out.Hostname,
		Path:       out.Path,
		Duration:   out.Duration,
		FinishedAt: finished,
	}
	if out.Err != nil {
		e.Error = out.Err.Error()
	}
	return e
}

func printSummary(w io.Writer, s backup.Summary) {
	fmt.Fprintf(w, "\nBackup summary (run %s, %s)\n", s.RunID, s.Duration().Round(time.Millisecond))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, st := range backup.Statuses {
		if n := s.Count(st); n > 0 || st == backup.StatusSuccess {
			fmt.Fprintf(tw, "  %s\t%d\n", strings.ToUpper(string(st)), n)
		}
	}
	fmt.Fprintf(tw, "  TOTAL\t%d\n", s.Total)
	tw.Flush()

	switch {
	case s.ArchiveErr != nil:
		fmt.Fprintf(w, "Archive: failed: %v\n", s.ArchiveErr)
	case s.ArchivePath != "":
		fmt.Fprintf(w, "Archive: %s (%d files)\n", s.ArchivePath, s.ArchiveFiles)
	default:
		fmt.Fprintln(w, "Archive: none")
	}
	switch {
	case s.PublishErr != nil:
		fmt.Fprintf(w, "Upload: failed: %v\n", s.PublishErr)
	case s.PublishedPath != "":
		fmt.Fprintf(w, "Upload: %s\n", s.PublishedPath)
	}
}

func printHistory(w io.Writer, entries []history.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No history recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FINISHED\tTARGET\tSTATUS\tHOSTNAME\tDURATION\tDETAIL")
	for _, e := range entries {
		detail := e.Path
		if e.Error != "" {
			detail = e.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.FinishedAt.Local().Format("2006-01-02 15:04:05"), e.Target, e.Status,
			e.Hostname, e.Duration, detail)
	}
	tw.Flush()
}
