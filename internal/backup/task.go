package backup

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lance0/HostHoover/internal/hostname"
	"github.com/lance0/HostHoover/internal/store"
)

// maxNameCandidates bounds the file names tried for one backup.
const maxNameCandidates = 8

// task takes one target through probe, session and write. Every path out of
// it yields exactly one terminal outcome.
func (o *Orchestrator) task(ctx context.Context, target string) (out Outcome) {
	start := o.opts.Now()
	log := o.log.WithField("target", target)
	out.Target = target
	defer func() { out.Duration = o.opts.Now().Sub(start) }()

	log.Debug("probing")
	if !o.opts.Prober.Probe(ctx, target) {
		out.Status, out.Err = StatusUnreachable, ErrUnreachable
		o.notify(ctx, log, out)
		return out
	}

	log.Debug("connecting")
	resp, err := o.opts.Client.Retrieve(ctx, o.opts.Profile, o.opts.Credentials, target)
	if err != nil {
		out.Status, out.Err = statusFor(err), err
		o.notify(ctx, log, out)
		return out
	}

	name, ok := hostname.Extract(resp.HostnameOutput, o.opts.Profile.Family)
	if !ok {
		name, ok = hostname.Extract(resp.Config, o.opts.Profile.Family)
	}
	if ok {
		out.Hostname = name
	} else {
		log.Debug("no hostname in response; naming the backup after the address")
	}
	safe := hostname.SafeName(name, target)
	ts := o.opts.Now()

	log.Debug("writing")
	path, err := o.opts.Writer.WriteUnique(store.Candidates(safe, hostname.Sanitize(target), ts, maxNameCandidates), resp.Config)
	if err != nil {
		out.Status, out.Err = StatusWriteError, fmt.Errorf("%w: %w", ErrWrite, err)
		o.notify(ctx, log, out)
		return out
	}
	out.Status, out.Path = StatusSuccess, path

	o.record(ctx, log, path, fmt.Sprintf("Backup %s (%s) %s", safe, target, ts.Format(store.TimestampLayout)))
	return out
}

// notify reports a failed target. Whatever the notifier does, the outcome
// stays as recorded.
func (o *Orchestrator) notify(ctx context.Context, log logrus.FieldLogger, out Outcome) {
	if o.opts.Notifier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("failure notification panicked: %v", r)
		}
	}()
	subject := fmt.Sprintf("Backup Failed - %s", out.Target)
	body := fmt.Sprintf("Failed to backup device %s\nStatus: %s\nError: %v\n", out.Target, out.Status, out.Err)
	if err := o.opts.Notifier.Notify(ctx, subject, body); err != nil {
		log.WithError(err).Warn("failure notification not sent")
	}
}

func (o *Orchestrator) record(ctx context.Context, log logrus.FieldLogger, path, message string) {
	if o.opts.Recorder == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("commit of %s panicked: %v", path, r)
		}
	}()
	if err := o.opts.Recorder.Record(ctx, path, message); err != nil {
		log.WithError(err).Warnf("commit of %s failed", path)
	}
}
