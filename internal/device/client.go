package device

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	driveroptions "github.com/scrapli/scrapligo/driver/options"
	scraplilogging "github.com/scrapli/scrapligo/logging"
	"github.com/scrapli/scrapligo/platform"
	"github.com/scrapli/scrapligo/response"
	"github.com/scrapli/scrapligo/transport"
	"github.com/scrapli/scrapligo/util"
	"github.com/sirupsen/logrus"
)

const (
	DefaultRetries    = 2
	DefaultRetryDelay = 2 * time.Second
)

// Response is what a session brought back from one device.
type Response struct {
	Config         string
	HostnameOutput string
}

// Client retrieves the configuration of one target. Implementations open and
// close their own session per call; failures wrap ErrAuthentication,
// ErrSessionTimeout or ErrSession.
type Client interface {
	Retrieve(ctx context.Context, p Profile, creds Credentials, target string) (Response, error)
}

type conn interface {
	SendCommand(command string, opts ...util.Option) (*response.Response, error)
	Close() error
}

type openFunc func(platformName, host string, opts ...util.Option) (conn, error)

// ScrapliClient is the Client backed by scrapligo's network driver over the
// standard (x/crypto/ssh) transport.
type ScrapliClient struct {
	Retries    int
	RetryDelay time.Duration
	// Debug is passed to scrapligo as its logger when set.
	Debug *scraplilogging.Instance

	log  logrus.FieldLogger
	open openFunc
}

func NewScrapliClient(log logrus.FieldLogger, retries int, retryDelay time.Duration) *ScrapliClient {
	if retries < 0 {
		retries = 0
	}
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	return &ScrapliClient{Retries: retries, RetryDelay: retryDelay, log: log, open: openNetworkDriver}
}

func openNetworkDriver(platformName, host string, opts ...util.Option) (conn, error) {
	p, err := platform.NewPlatform(platformName, host, opts...)
	if err != nil {
		return nil, err
	}
	d, err := p.GetNetworkDriver()
	if err != nil {
		return nil, err
	}
	if err := d.Open(); err != nil {
		return nil, err
	}
	return d, nil
}

func (c *ScrapliClient) options(p Profile, creds Credentials) []util.Option {
	opts := []util.Option{
		driveroptions.WithAuthUsername(creds.Username),
		driveroptions.WithAuthNoStrictKey(),
		driveroptions.WithTransportType(transport.StandardTransport),
		driveroptions.WithTimeoutOps(p.Timeout),
		driveroptions.WithTimeoutSocket(p.Timeout),
	}
	if creds.KeyPath != "" {
		opts = append(opts, driveroptions.WithAuthPrivateKey(creds.KeyPath, creds.KeyPassphrase))
	} else {
		opts = append(opts, driveroptions.WithAuthPassword(creds.Password))
	}
	if p.Port > 0 {
		opts = append(opts, driveroptions.WithPort(p.Port))
	}
	if p.Platform == "nokia_sros" {
		opts = append(opts, driveroptions.WithPromptPattern(srosPromptPattern()))
	}
	if c.Debug != nil {
		opts = append(opts, driveroptions.WithLogger(c.Debug))
	}
	return opts
}

func srosPromptPattern() *regexp.Regexp {
	// Match either the normal prompt or the config-context marker line.
	return regexp.MustCompile(`(?m)^(?:[A-Za-z]:.*#\s*|\*?\[[^\]]+\]\s*)$`)
}

// connect opens a driver, retrying plain session errors. Authentication
// failures and timeouts are final.
func (c *ScrapliClient) connect(ctx context.Context, p Profile, creds Credentials, target string) (conn, error) {
	opts := c.options(p, creds)
	var d conn
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %w", ErrSession, err))
		}
		var err error
		d, err = c.open(p.Platform, target, opts...)
		if err == nil {
			return nil
		}
		err = Classify(err)
		if errors.Is(err, ErrAuthentication) || errors.Is(err, ErrSessionTimeout) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.RetryDelay), uint64(c.Retries)), ctx)
	notify := func(err error, wait time.Duration) {
		c.log.WithField("target", target).Warnf("open session failed: %v; retrying in %s", err, wait)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return d, nil
}

// Retrieve opens a session to target, disables paging, looks up the hostname
// when the dialect has a command for it and runs the retrieval command. The
// session is closed before Retrieve returns.
func (c *ScrapliClient) Retrieve(ctx context.Context, p Profile, creds Credentials, target string) (Response, error) {
	log := c.log.WithField("target", target)
	d, err := c.connect(ctx, p, creds, target)
	if err != nil {
		return Response{}, err
	}
	defer func() {
		if err := d.Close(); err != nil {
			log.Debugf("close session: %v", err)
		}
	}()

	for _, cmd := range p.Setup {
		_, _ = d.SendCommand(cmd)
	}

	var out Response
	if p.HostnameCommand != "" {
		r, err := d.SendCommand(p.HostnameCommand)
		switch {
		case err != nil:
			log.Debugf("hostname lookup failed: %v", err)
		case r.Failed != nil:
			log.Debugf("hostname lookup failed: %v", r.Failed)
		default:
			out.HostnameOutput = r.Result
		}
	}

	r, err := d.SendCommand(p.Command)
	if err != nil {
		return Response{}, Classify(err)
	}
	if r.Failed != nil {
		return Response{}, fmt.Errorf("%w: %q rejected: %w", ErrSession, p.Command, r.Failed)
	}
	if strings.TrimSpace(r.Result) == "" {
		return Response{}, fmt.Errorf("%w: %q returned no output", ErrSession, p.Command)
	}
	out.Config = r.Result
	return out, nil
}
