package capture

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/rjboer/hiqsdr-emu/internal/hiqsdr"
)

// RemoteConfig locates a capture file on another host reachable over SSH.
type RemoteConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	KeyPath  string
	Path     string
}

// IsRemote reports whether a capture location uses the ssh:// scheme.
func IsRemote(location string) bool {
	return strings.HasPrefix(location, "ssh://")
}

// ParseRemote turns ssh://user@host[:port]/path/to/file.iq into a
// RemoteConfig. Credentials other than the user name are not taken from the
// URL.
func ParseRemote(location string) (RemoteConfig, error) {
	u, err := url.Parse(location)
	if err != nil {
		return RemoteConfig{}, fmt.Errorf("parse capture url: %w", err)
	}
	if u.Scheme != "ssh" {
		return RemoteConfig{}, fmt.Errorf("unsupported capture scheme %q", u.Scheme)
	}
	cfg := RemoteConfig{Host: u.Hostname(), Path: u.Path}
	if u.User != nil {
		cfg.User = u.User.Username()
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return RemoteConfig{}, fmt.Errorf("invalid ssh port %q", p)
		}
		cfg.Port = port
	}
	if cfg.Host == "" || cfg.Path == "" || cfg.Path == "/" {
		return RemoteConfig{}, fmt.Errorf("capture url %q needs a host and a file path", location)
	}
	return cfg, nil
}

// OpenRemote copies a remote capture into memory over an SSH session and
// serves it cyclically. The connection is closed once the copy completes.
func OpenRemote(ctx context.Context, cfg RemoteConfig) (*Cyclic, error) {
	if cfg.User == "" {
		cfg.User = "root"
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}

	client, err := dialSSH(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("create ssh session: %w", err)
	}
	defer session.Close()

	data, err := session.Output("cat " + shellQuote(cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("fetch %s:%s: %w", cfg.Host, cfg.Path, err)
	}
	c, err := NewCyclic(bytes.NewReader(data), int64(len(data)), hiqsdr.FrameSize)
	if err != nil {
		return nil, fmt.Errorf("%s:%s: %w", cfg.Host, cfg.Path, err)
	}
	return c, nil
}

func dialSSH(ctx context.Context, cfg RemoteConfig) (*ssh.Client, error) {
	auth := []ssh.AuthMethod{}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if cfg.KeyPath != "" {
		key, err := os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no ssh password or key configured")
	}

	config := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial ssh: %w", err)
	}

	client, err := handshakeSSH(ctx, conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return client, nil
}

// handshakeSSH runs the SSH handshake on conn, bounded by config.Timeout and
// by ctx. ClientConfig.Timeout alone only covers ssh.Dial.
func handshakeSSH(ctx context.Context, conn net.Conn, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	if config.Timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(config.Timeout)); err != nil {
			return nil, fmt.Errorf("set ssh handshake deadline: %w", err)
		}
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	cancelled := !stop()
	if err != nil {
		if cancelled && ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("create ssh client: %w", err)
	}
	if cancelled {
		clientConn.Close()
		return nil, fmt.Errorf("create ssh client: %w", ctx.Err())
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		clientConn.Close()
		return nil, fmt.Errorf("clear ssh handshake deadline: %w", err)
	}
	return ssh.NewClient(clientConn, chans, reqs), nil
}

func shellQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
