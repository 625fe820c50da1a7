// Package publish uploads finished run archives to a remote host over SFTP.
package publish

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/lance0/HostHoover/internal/device"
)

const DefaultTimeout = 30 * time.Second

// Config is the publish block of the configuration file. Username, Password
// and KeyPath fall back to the run credentials when empty.
type Config struct {
	Host     string        `yaml:"host" validate:"required"`
	Port     int           `yaml:"port" validate:"omitempty,min=1,max=65535"`
	Dir      string        `yaml:"dir" validate:"required"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	KeyPath  string        `yaml:"key"`
	Timeout  time.Duration `yaml:"timeout"`
}

// SFTP uploads one file per Publish call on a fresh connection.
type SFTP struct {
	cfg   Config
	creds device.Credentials
}

// NewSFTP merges cfg with the run credentials.
func NewSFTP(cfg Config, run device.Credentials) *SFTP {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	creds := run
	if cfg.Username != "" {
		creds.Username = cfg.Username
	}
	if cfg.Password != "" || cfg.KeyPath != "" {
		creds.Password, creds.KeyPath = cfg.Password, cfg.KeyPath
		if cfg.KeyPath == "" {
			creds.KeyPassphrase = ""
		}
	}
	return &SFTP{cfg: cfg, creds: creds}
}

func (p *SFTP) Target() string {
	return fmt.Sprintf("%s@%s:%s", p.creds.Username, p.cfg.Host, p.cfg.Dir)
}

func (p *SFTP) connect(ctx context.Context) (*sftp.Client, *ssh.Client, error) {
	auth, err := p.creds.AuthMethods()
	if err != nil {
		return nil, nil, err
	}
	cfg := &ssh.ClientConfig{
		User:            p.creds.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         p.cfg.Timeout,
	}

	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
	d := net.Dialer{Timeout: p.cfg.Timeout}
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	c, chans, reqs, err := handshake(raw, addr, cfg, p.cfg.Timeout)
	if err != nil {
		raw.Close()
		return nil, nil, err
	}
	conn := ssh.NewClient(c, chans, reqs)

	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return client, conn, nil
}

// handshake runs the SSH handshake on raw under a deadline. ClientConfig's
// Timeout only covers ssh.Dial, so a peer that accepts TCP and then stays
// silent would otherwise block forever.
func handshake(raw net.Conn, addr string, cfg *ssh.ClientConfig, timeout time.Duration) (ssh.Conn, <-chan ssh.NewChannel, <-chan *ssh.Request, error) {
	if err := raw.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, nil, nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(raw, addr, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := raw.SetDeadline(time.Time{}); err != nil {
		c.Close()
		return nil, nil, nil, err
	}
	return c, chans, reqs, nil
}

// Publish uploads localPath into the configured directory and returns the
// remote path.
func (p *SFTP) Publish(ctx context.Context, localPath string) (string, error) {
	client, conn, err := p.connect(ctx)
	if err != nil {
		return "", fmt.Errorf("sftp connect %s: %w", p.cfg.Host, err)
	}
	defer conn.Close()
	defer client.Close()

	remote, err := upload(client, localPath, p.cfg.Dir)
	if err != nil {
		return "", fmt.Errorf("sftp upload to %s: %w", p.cfg.Host, err)
	}
	return remote, nil
}

func upload(client *sftp.Client, localPath, remoteDir string) (string, error) {
	src, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer src.Close()

	if err := client.MkdirAll(remoteDir); err != nil {
		return "", err
	}
	remotePath := path.Join(remoteDir, filepath.Base(localPath))
	dst, err := client.Create(remotePath)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", err
	}
	if err := dst.Close(); err != nil {
		return "", err
	}
	return remotePath, nil
}
