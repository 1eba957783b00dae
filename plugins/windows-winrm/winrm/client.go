// Package winrm wraps github.com/masterzen/winrm for the get_data helper's
// one-shot use: dial, run one PowerShell query per metric group, exit.
// There is no connection pooling or reuse here — internal/loader's
// ExternalMonitor shells this binary out fresh on every poll (spec.md
// §4.5), so nothing in this package needs to outlive a single process.
package winrm

import (
	"fmt"
	"strings"
	"time"

	"github.com/masterzen/winrm"
	"github.com/nmslite/plugins/windows-winrm/models"
)

// Client wraps a single WinRM connection used to run PowerShell queries
// against one target host for the lifetime of one get_data invocation.
type Client struct {
	client *winrm.Client
	target string
}

// NewClient dials target using creds: Basic auth when Domain is empty,
// NTLM when it's set, and HTTPS when creds.UseHTTPS is true (typically
// port 5986 instead of 5985). TLS verification is skipped outright —
// WinRM endpoints on a managed network rarely carry certificates a Go
// client would trust, and this plugin is reached only via the agent's own
// already-authenticated get_data invocation, not exposed to the network.
func NewClient(target string, port int, creds models.Credentials, timeout time.Duration) (*Client, error) {
	endpoint := winrm.NewEndpoint(
		target,
		port,
		creds.UseHTTPS,
		true, // insecure - skip certificate verification
		nil,  // CA certificate
		nil,  // client certificate
		nil,  // client key
		timeout,
	)

	var client *winrm.Client
	var err error

	if creds.Domain != "" {
		// NTLM authentication with domain
		params := winrm.DefaultParameters
		params.TransportDecorator = func() winrm.Transporter {
			return &winrm.ClientNTLM{}
		}
		client, err = winrm.NewClientWithParameters(
			endpoint,
			fmt.Sprintf("%s\\%s", creds.Domain, creds.Username),
			creds.Password,
			params,
		)
	} else {
		// Basic authentication
		client, err = winrm.NewClient(endpoint, creds.Username, creds.Password)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create WinRM client: %w", err)
	}

	return &Client{
		client: client,
		target: target,
	}, nil
}

// RunPowerShell wraps script as a powershell.exe -Command invocation over
// the WinRM connection and returns its trimmed stdout. Every collector in
// this module goes through here rather than RunWithString directly, so the
// quoting and exit-code handling lives in exactly one place.
func (c *Client) RunPowerShell(script string) (string, error) {
	psCmd := fmt.Sprintf("powershell.exe -NoProfile -NonInteractive -Command \"%s\"",
		strings.ReplaceAll(script, "\"", "`\""))

	stdout, stderr, exitCode, err := c.client.RunWithString(psCmd, "")
	if err != nil {
		return "", fmt.Errorf("WinRM execution failed: %w", err)
	}
	if exitCode != 0 {
		return "", fmt.Errorf("PowerShell command failed (exit code %d): %s", exitCode, stderr)
	}
	return strings.TrimSpace(stdout), nil
}

// Target returns the host this client is connected to, used only for log
// context when a collector fails partway through Collect.
func (c *Client) Target() string {
	return c.target
}

// Close exists so Client satisfies the defer-close pattern the rest of the
// agent's collaborators follow; the underlying WinRM transport has no
// persistent connection to release between requests.
func (c *Client) Close() {}
