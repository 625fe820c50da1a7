package device

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/scrapli/scrapligo/response"
	"github.com/scrapli/scrapligo/util"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "dial tcp 10.0.0.1:22: connect: deadline" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "scrapli auth sentinel", err: fmt.Errorf("%w: bad creds", util.ErrAuthError), want: ErrAuthentication},
		{name: "ssh handshake", err: errors.New("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none password], no supported methods remain"), want: ErrAuthentication},
		{name: "scrapli timeout sentinel", err: fmt.Errorf("%w: waiting for prompt", util.ErrTimeoutError), want: ErrSessionTimeout},
		{name: "context deadline", err: context.DeadlineExceeded, want: ErrSessionTimeout},
		{name: "net timeout", err: timeoutErr{}, want: ErrSessionTimeout},
		{name: "io timeout text", err: errors.New("read tcp: i/o timeout"), want: ErrSessionTimeout},
		{name: "connection refused", err: errors.New("dial tcp 10.0.0.1:22: connect: connection refused"), want: ErrSession},
		{name: "already classified", err: fmt.Errorf("%w: x", ErrSessionTimeout), want: ErrSessionTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			assert.ErrorIs(t, got, tt.want)
			for _, other := range []error{ErrAuthentication, ErrSessionTimeout, ErrSession} {
				if other != tt.want {
					assert.NotErrorIs(t, got, other)
				}
			}
		})
	}
	assert.NoError(t, Classify(nil))
}

func TestNewProfile(t *testing.T) {
	p := NewProfile("cisco_ios", "", 0, 0)
	assert.Equal(t, "cisco_ios", p.Family)
	assert.Equal(t, "cisco_iosxe", p.Platform)
	assert.Equal(t, DefaultCommand, p.Command)
	assert.Equal(t, "show running-config | include ^hostname", p.HostnameCommand)
	assert.Equal(t, DefaultTimeout, p.Timeout)

	junos := NewProfile("vr-vmx", "", 830, 10*time.Second)
	assert.Equal(t, "juniper_junos", junos.Family)
	assert.Equal(t, "show configuration | display set", junos.Command)
	assert.Empty(t, junos.HostnameCommand)
	assert.Equal(t, 830, junos.Port)

	override := NewProfile("arista_eos", "show startup-config", 0, 0)
	assert.Equal(t, "show startup-config", override.Command)
	assert.Equal(t, "show hostname", override.HostnameCommand)

	custom := NewProfile("platforms/my_vendor.yaml", "", 0, 0)
	assert.Equal(t, "platforms/my_vendor.yaml", custom.Platform)
	assert.Equal(t, DefaultCommand, custom.Command)
	assert.False(t, KnownFamily("platforms/my_vendor.yaml"))
	assert.True(t, KnownFamily("SRL"))
	assert.Equal(t, DefaultFamily, NormalizeFamily(""))
}

func TestCredentials_Validate(t *testing.T) {
	assert.NoError(t, Credentials{Username: "admin", Password: "pw"}.Validate())
	assert.NoError(t, Credentials{Username: "admin", KeyPath: "/k"}.Validate())
	assert.ErrorIs(t, Credentials{Username: "admin"}.Validate(), ErrMissingCredentials)
	assert.ErrorIs(t, Credentials{Password: "pw"}.Validate(), ErrMissingCredentials)
	assert.ErrorIs(t, Credentials{Username: "a", Password: "pw", KeyPath: "/k"}.Validate(), ErrConflictingCredentials)
	assert.NotContains(t, Credentials{Username: "a", Password: "secret"}.String(), "secret")
}

func TestCredentials_Signer(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))

	creds := Credentials{Username: "admin", KeyPath: path}
	signer, err := creds.Signer()
	require.NoError(t, err)
	assert.Equal(t, "ssh-ed25519", signer.PublicKey().Type())

	methods, err := creds.AuthMethods()
	require.NoError(t, err)
	assert.Len(t, methods, 1)

	_, err = Credentials{Username: "admin", KeyPath: filepath.Join(t.TempDir(), "missing")}.Signer()
	assert.Error(t, err)
}

type fakeConn struct {
	results map[string]*response.Response
	errs    map[string]error
	sent    []string
	closed  bool
}

func (f *fakeConn) SendCommand(command string, _ ...util.Option) (*response.Response, error) {
	f.sent = append(f.sent, command)
	if err := f.errs[command]; err != nil {
		return nil, err
	}
	if r, ok := f.results[command]; ok {
		return r, nil
	}
	return &response.Response{}, nil
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func newTestClient(retries int, open openFunc) *ScrapliClient {
	log, _ := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	c := NewScrapliClient(log, retries, time.Millisecond)
	c.open = open
	return c
}

func TestScrapliClient_Retrieve(t *testing.T) {
	profile := NewProfile("cisco_ios", "", 0, time.Second)
	creds := Credentials{Username: "admin", Password: "pw"}

	t.Run("returns config and hostname output", func(t *testing.T) {
		fc := &fakeConn{results: map[string]*response.Response{
			profile.HostnameCommand: {Result: "hostname SW1"},
			profile.Command:         {Result: "hostname SW1\n!\nend\n"},
		}}
		c := newTestClient(0, func(string, string, ...util.Option) (conn, error) { return fc, nil })

		resp, err := c.Retrieve(context.Background(), profile, creds, "10.0.0.2")
		require.NoError(t, err)
		assert.Equal(t, "hostname SW1", resp.HostnameOutput)
		assert.Contains(t, resp.Config, "end")
		assert.True(t, fc.closed)
		assert.Equal(t, append(append([]string{}, profile.Setup...), profile.HostnameCommand, profile.Command), fc.sent)
	})

	t.Run("hostname lookup failure is not fatal", func(t *testing.T) {
		fc := &fakeConn{
			results: map[string]*response.Response{profile.Command: {Result: "hostname R9\n"}},
			errs:    map[string]error{profile.HostnameCommand: errors.New("boom")},
		}
		c := newTestClient(0, func(string, string, ...util.Option) (conn, error) { return fc, nil })

		resp, err := c.Retrieve(context.Background(), profile, creds, "10.0.0.2")
		require.NoError(t, err)
		assert.Empty(t, resp.HostnameOutput)
		assert.True(t, fc.closed)
	})

	t.Run("command timeout is classified and session closed", func(t *testing.T) {
		fc := &fakeConn{errs: map[string]error{profile.Command: fmt.Errorf("%w: prompt", util.ErrTimeoutError)}}
		c := newTestClient(0, func(string, string, ...util.Option) (conn, error) { return fc, nil })

		_, err := c.Retrieve(context.Background(), profile, creds, "10.0.0.2")
		assert.ErrorIs(t, err, ErrSessionTimeout)
		assert.True(t, fc.closed)
	})

	t.Run("rejected command", func(t *testing.T) {
		fc := &fakeConn{results: map[string]*response.Response{
			profile.Command: {Result: "% Invalid input", Failed: errors.New("output contains failed-when string")},
		}}
		c := newTestClient(0, func(string, string, ...util.Option) (conn, error) { return fc, nil })

		_, err := c.Retrieve(context.Background(), profile, creds, "10.0.0.2")
		assert.ErrorIs(t, err, ErrSession)
		assert.True(t, fc.closed)
	})

	t.Run("empty output", func(t *testing.T) {
		fc := &fakeConn{}
		c := newTestClient(0, func(string, string, ...util.Option) (conn, error) { return fc, nil })

		_, err := c.Retrieve(context.Background(), profile, creds, "10.0.0.2")
		assert.ErrorIs(t, err, ErrSession)
	})
}

func TestScrapliClient_ConnectRetries(t *testing.T) {
	profile := NewProfile("cisco_ios", "", 0, time.Second)
	creds := Credentials{Username: "admin", Password: "pw"}

	tests := []struct {
		name      string
		openErr   error
		wantErr   error
		wantCalls int
	}{
		{name: "auth failure is final", openErr: errors.New("ssh: unable to authenticate"), wantErr: ErrAuthentication, wantCalls: 1},
		{name: "timeout is final", openErr: fmt.Errorf("%w", util.ErrTimeoutError), wantErr: ErrSessionTimeout, wantCalls: 1},
		{name: "session error is retried", openErr: errors.New("connection reset by peer"), wantErr: ErrSession, wantCalls: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			c := newTestClient(2, func(string, string, ...util.Option) (conn, error) {
				calls++
				return nil, tt.openErr
			})
			_, err := c.Retrieve(context.Background(), profile, creds, "10.0.0.1")
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantCalls, calls)
		})
	}

	t.Run("recovers after transient failure", func(t *testing.T) {
		calls := 0
		fc := &fakeConn{results: map[string]*response.Response{profile.Command: {Result: "hostname R1"}}}
		c := newTestClient(2, func(string, string, ...util.Option) (conn, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("connection reset by peer")
			}
			return fc, nil
		})
		_, err := c.Retrieve(context.Background(), profile, creds, "10.0.0.1")
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})
}

func TestScrapliClient_Options(t *testing.T) {
	c := newTestClient(0, nil)
	pw := c.options(NewProfile("cisco_ios", "", 2222, time.Second), Credentials{Username: "u", Password: "p"})
	key := c.options(NewProfile("nokia_sros", "", 0, time.Second), Credentials{Username: "u", KeyPath: "/k"})
	assert.Len(t, pw, 7)
	assert.Len(t, key, 7)
}
