// Package sftp provides the remote backend: an SSH shell and an SFTP
// filesystem sharing one lazily established connection.
//
// A Backend is not safe for concurrent use beyond its connection setup,
// which is guarded so that the first caller dials and later callers reuse
// the same client.
package sftp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/vvka-141/atomdeploy/internal/retry"
	"github.com/vvka-141/atomdeploy/pkg/atomdeploy"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Config describes how to reach and authenticate to a remote host.
type Config struct {
	Host           string
	Port           int
	Username       string
	Password       string
	PrivateKeyFile string
	Passphrase     string

	// KnownHostsFile enables host key verification. Empty accepts any host key.
	KnownHostsFile string

	// Root is the directory every backend path is relative to. A relative
	// root is resolved against the login directory on first use.
	Root string

	DialTimeout time.Duration
}

// Validate checks that the configuration can be used to dial.
func (c Config) Validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, atomdeploy.NewConfigurationError("host", "is required"))
	}
	if c.Username == "" {
		errs = append(errs, atomdeploy.NewConfigurationError("username", "is required"))
	}
	if c.Password == "" && c.PrivateKeyFile == "" {
		errs = append(errs, atomdeploy.NewConfigurationError("password", "either password or private_key_file is required"))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, atomdeploy.NewConfigurationError("port", "%d is out of range", c.Port))
	}
	return errors.Join(errs...)
}

// Address returns host:port, defaulting to the SSH port.
func (c Config) Address() string {
	port := c.Port
	if port == 0 {
		port = atomdeploy.DefaultSSHPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Connection owns the SSH client and the SFTP session layered on it.
type Connection struct {
	cfg    Config
	logger atomdeploy.Logger
	dialer *retry.Executor

	mu   sync.Mutex
	ssh  *ssh.Client
	sftp *sftp.Client
	root string
}

// NewConnection prepares a connection; nothing is dialed until first use.
func NewConnection(cfg Config, logger atomdeploy.Logger) *Connection {
	if logger == nil {
		panic("logger cannot be nil")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = atomdeploy.DefaultDialTimeout
	}
	return &Connection{
		cfg:    cfg,
		logger: logger,
		dialer: retry.NewDialExecutor(logger, cfg.Address()),
	}
}

// SSH returns the shared SSH client, dialing it on first use.
func (c *Connection) SSH(ctx context.Context) (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}
	return c.ssh, nil
}

// SFTP returns the shared SFTP client, opening it on first use.
func (c *Connection) SFTP(ctx context.Context) (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}
	if c.sftp == nil {
		client, err := sftp.NewClient(c.ssh)
		if err != nil {
			return nil, fmt.Errorf("%w: open sftp session on %s: %w", atomdeploy.ErrConnectionFailed, c.cfg.Address(), err)
		}
		c.sftp = client
	}
	return c.sftp, nil
}

// Root returns the absolute remote root. An absolute configured root is
// returned without connecting; a relative one is resolved once.
func (c *Connection) Root(ctx context.Context) (string, error) {
	c.mu.Lock()
	resolved := c.root
	c.mu.Unlock()
	if resolved != "" {
		return resolved, nil
	}

	configured := strings.TrimRight(c.cfg.Root, "/")
	if strings.HasPrefix(c.cfg.Root, "/") {
		resolved = path.Clean("/" + configured)
	} else {
		client, err := c.SFTP(ctx)
		if err != nil {
			return "", err
		}
		home, err := client.Getwd()
		if err != nil {
			return "", fmt.Errorf("%w: resolve login directory: %w", atomdeploy.ErrConnectionFailed, err)
		}
		resolved = path.Join(home, configured)
	}

	c.mu.Lock()
	c.root = resolved
	c.mu.Unlock()
	return resolved, nil
}

// Close tears down the SFTP session and the SSH client.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if c.sftp != nil {
		errs = append(errs, c.sftp.Close())
		c.sftp = nil
	}
	if c.ssh != nil {
		errs = append(errs, c.ssh.Close())
		c.ssh = nil
	}
	return errors.Join(errs...)
}

func (c *Connection) connectLocked(ctx context.Context) error {
	if c.ssh != nil {
		return nil
	}

	clientConfig, err := c.clientConfig()
	if err != nil {
		return err
	}

	addr := c.cfg.Address()
	c.logger.Verbose("Connecting to %s@%s", c.cfg.Username, addr)

	var client *ssh.Client
	err = c.dialer.Execute(ctx, func(ctx context.Context) error {
		var dialErr error
		client, dialErr = dial(ctx, addr, clientConfig)
		return dialErr
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: ssh %s: %w", atomdeploy.ErrConnectionFailed, addr, err)
	}

	c.ssh = client
	return nil
}

// dial is ssh.Dial with the TCP connect bound to ctx.
func dial(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: config.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if config.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(config.Timeout))
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(sshConn, chans, reqs), nil
}

func (c *Connection) clientConfig() (*ssh.ClientConfig, error) {
	auth, err := c.authMethods()
	if err != nil {
		return nil, err
	}
	hostKeys, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            c.cfg.Username,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         c.cfg.DialTimeout,
	}, nil
}

func (c *Connection) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if c.cfg.PrivateKeyFile != "" {
		keyPath := expandHome(c.cfg.PrivateKeyFile)
		key, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, atomdeploy.NewConfigurationError("private_key_file", "read %s: %v", keyPath, err)
		}

		var signer ssh.Signer
		if c.cfg.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(c.cfg.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(key)
		}
		if err != nil {
			return nil, atomdeploy.NewConfigurationError("private_key_file", "parse %s: %v", keyPath, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if c.cfg.Password != "" {
		password := c.cfg.Password
		methods = append(methods,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	if len(methods) == 0 {
		return nil, atomdeploy.NewConfigurationError("password", "either password or private_key_file is required")
	}
	return methods, nil
}

func (c *Connection) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.cfg.KnownHostsFile == "" {
		c.logger.Verbose("Host key checking is disabled for %s", c.cfg.Address())
		return ssh.InsecureIgnoreHostKey(), nil
	}
	file := expandHome(c.cfg.KnownHostsFile)
	callback, err := knownhosts.New(file)
	if err != nil {
		return nil, atomdeploy.NewConfigurationError("known_hosts_file", "load %s: %v", file, err)
	}
	return callback, nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
