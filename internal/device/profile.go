// Package device talks to network devices: it knows each supported family's
// command dialect and wraps the scrapligo driver behind a small Client
// interface whose failures are classified for the backup run.
package device

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

const (
	DefaultFamily  = "cisco_ios"
	DefaultCommand = "show running-config"
	DefaultTimeout = 60 * time.Second
)

// Profile selects the command dialect used against every target of a run. It
// is shared by all tasks and never modified once the run starts.
type Profile struct {
	Family          string
	Platform        string // scrapligo platform name or definition file
	Command         string
	HostnameCommand string
	Setup           []string
	Port            int
	Timeout         time.Duration
}

type dialect struct {
	platform        string
	command         string
	hostnameCommand string
	setup           []string
}

var dialects = map[string]dialect{
	"cisco_ios": {
		platform:        "cisco_iosxe",
		command:         DefaultCommand,
		hostnameCommand: "show running-config | include ^hostname",
		setup:           []string{"terminal length 0", "terminal width 511"},
	},
	"cisco_iosxr": {
		platform:        "cisco_iosxr",
		command:         DefaultCommand,
		hostnameCommand: "show running-config hostname",
		setup:           []string{"terminal length 0"},
	},
	"cisco_nxos": {
		platform:        "cisco_nxos",
		command:         DefaultCommand,
		hostnameCommand: "show running-config | include ^hostname",
		setup:           []string{"terminal length 0"},
	},
	"arista_eos": {
		platform:        "arista_eos",
		command:         DefaultCommand,
		hostnameCommand: "show hostname",
		setup:           []string{"terminal length 0"},
	},
	"juniper_junos": {
		platform: "juniper_junos",
		command:  "show configuration | display set",
		setup:    []string{"set cli screen-length 0", "set cli screen-width 0"},
	},
	"nokia_sros": {
		platform: "nokia_sros",
		command:  "admin show configuration",
		setup:    []string{"environment more false"},
	},
	"nokia_srl": {
		platform: "nokia_srl",
		command:  "info from running",
	},
}

var familyAliases = map[string]string{
	"cisco_xe":      "cisco_ios",
	"cisco_iosxe":   "cisco_ios",
	"cisco_xr":      "cisco_iosxr",
	"vr-xrv9k":      "cisco_iosxr",
	"cisco_xrv9k":   "cisco_iosxr",
	"arista":        "arista_eos",
	"juniper":       "juniper_junos",
	"vr-vmx":        "juniper_junos",
	"juniper_vmx":   "juniper_junos",
	"vr-sros":       "nokia_sros",
	"srl":           "nokia_srl",
	"nokia_srlinux": "nokia_srl",
}

// NormalizeFamily maps common aliases onto the family names in the dialect
// table. Unknown names are returned lower-cased and otherwise untouched.
func NormalizeFamily(family string) string {
	f := strings.ToLower(strings.TrimSpace(family))
	if f == "" {
		return DefaultFamily
	}
	if alias, ok := familyAliases[f]; ok {
		return alias
	}
	return f
}

// KnownFamily reports whether family has a built-in dialect.
func KnownFamily(family string) bool {
	_, ok := dialects[NormalizeFamily(family)]
	return ok
}

// NewProfile builds the profile for family. A non-empty command replaces the
// family's retrieval command. Families without a built-in dialect are handed
// to scrapligo as-is, which accepts a platform definition file path there.
func NewProfile(family, command string, port int, timeout time.Duration) Profile {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	f := NormalizeFamily(family)
	p := Profile{Family: f, Platform: family, Command: DefaultCommand, Port: port, Timeout: timeout}
	if d, ok := dialects[f]; ok {
		p.Platform = d.platform
		p.Command = d.command
		p.HostnameCommand = d.hostnameCommand
		p.Setup = append([]string(nil), d.setup...)
	}
	if c := strings.TrimSpace(command); c != "" {
		p.Command = c
	}
	return p
}

var (
	ErrMissingCredentials     = errors.New("missing credentials: a username and either a password or a private key are required")
	ErrConflictingCredentials = errors.New("conflicting credentials: give either a password or a private key, not both")
)

// Credentials authenticate every session of a run. Exactly one of Password and
// KeyPath is set.
type Credentials struct {
	Username      string
	Password      string
	KeyPath       string
	KeyPassphrase string
}

func (c Credentials) Validate() error {
	if c.Username == "" || (c.Password == "" && c.KeyPath == "") {
		return ErrMissingCredentials
	}
	if c.Password != "" && c.KeyPath != "" {
		return ErrConflictingCredentials
	}
	return nil
}

func (c Credentials) String() string {
	if c.KeyPath != "" {
		return fmt.Sprintf("%s (key %s)", c.Username, c.KeyPath)
	}
	return fmt.Sprintf("%s (password)", c.Username)
}

// Signer loads the private key so an unreadable or mistyped key is reported
// before any device is contacted.
func (c Credentials) Signer() (ssh.Signer, error) {
	if c.KeyPath == "" {
		return nil, errors.New("no private key configured")
	}
	pem, err := os.ReadFile(c.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	if c.KeyPassphrase != "" {
		signer, err := ssh.ParsePrivateKeyWithPassphrase(pem, []byte(c.KeyPassphrase))
		if err != nil {
			return nil, fmt.Errorf("parse private key %s: %w", c.KeyPath, err)
		}
		return signer, nil
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil, fmt.Errorf("parse private key %s: %w", c.KeyPath, err)
	}
	return signer, nil
}

// AuthMethods returns the x/crypto/ssh auth methods for c.
func (c Credentials) AuthMethods() ([]ssh.AuthMethod, error) {
	if c.KeyPath != "" {
		signer, err := c.Signer()
		if err != nil {
			return nil, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	return []ssh.AuthMethod{ssh.Password(c.Password)}, nil
}
