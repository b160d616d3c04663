package modules

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/fetchez/fetchez/pkg/engine"
	"github.com/fetchez/fetchez/pkg/recipe"
)

// SFTPConfig holds the connection settings for an SFTP source.
type SFTPConfig struct {
	Host string
	Port int
	User string

	// Password enables password auth; PrivateKeyPath enables key auth.
	// Key auth wins when both are set.
	Password       string
	PrivateKeyPath string

	// KnownHostsPath enables strict host key verification. Empty disables
	// it, which is only acceptable against trusted networks.
	KnownHostsPath string

	ConnectTimeout time.Duration
}

// Address returns the formatted host:port.
func (c *SFTPConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *SFTPConfig) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if c.PrivateKeyPath != "" {
		keyBytes, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("reading private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("parsing private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	} else if c.Password != "" {
		auth = append(auth, ssh.Password(c.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("sftp source requires `password` or `key`")
	}

	var hostKeyCallback ssh.HostKeyCallback
	if c.KnownHostsPath != "" {
		var err error
		hostKeyCallback, err = knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("loading known_hosts: %w", err)
		}
	} else {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	timeout := c.ConnectTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, nil
}

func (c *SFTPConfig) dial() (*ssh.Client, *sftp.Client, error) {
	cfg, err := c.clientConfig()
	if err != nil {
		return nil, nil, err
	}
	conn, err := ssh.Dial("tcp", c.Address(), cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("dialing %s: %w", c.Address(), err)
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("opening sftp session: %w", err)
	}
	return conn, client, nil
}

// SFTPModule resolves entries by walking a directory on an SFTP server.
// A glob argument narrows the listing by base name.
type SFTPModule struct {
	config SFTPConfig
	root   string
	glob   string
}

// NewSFTP is the module factory for "sftp".
func NewSFTP(args map[string]interface{}) (engine.Module, error) {
	cfg := SFTPConfig{Port: 22}
	cfg.Host, _ = args["host"].(string)
	cfg.User, _ = args["user"].(string)
	cfg.Password, _ = args["password"].(string)
	cfg.PrivateKeyPath, _ = args["key"].(string)
	cfg.KnownHostsPath, _ = args["known_hosts"].(string)
	if p, ok := args["port"]; ok {
		cfg.Port = toInt(p, 22)
	}
	if cfg.Host == "" || cfg.User == "" {
		return nil, engine.NewPermanentError(
			"sftp module requires `host` and `user`", nil).
			WithCode(engine.ErrCodeConfig)
	}

	root, _ := args["path"].(string)
	if root == "" {
		root = "."
	}
	glob, _ := args["glob"].(string)
	return &SFTPModule{config: cfg, root: root, glob: glob}, nil
}

// Name implements engine.Module.
func (m *SFTPModule) Name() string { return "sftp" }

// Resolve implements engine.Module. The listing happens at resolution time
// so a down server surfaces as a module-level failure, not per-entry noise.
func (m *SFTPModule) Resolve(ctx context.Context, _ recipe.Region) ([]*engine.Entry, error) {
	conn, client, err := m.config.dial()
	if err != nil {
		return nil, engine.NewTransientError("sftp source unavailable", err).
			WithCode(engine.ErrCodeSourceUnavailable).
			WithSource(m.config.Address())
	}
	defer conn.Close()
	defer client.Close()

	var entries []*engine.Entry
	walker := client.Walk(m.root)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return nil, engine.NewTransientError("walking remote directory", err).
				WithCode(engine.ErrCodeSourceUnavailable).
				WithSource(m.config.Address())
		}
		if walker.Stat().IsDir() {
			continue
		}
		name := path.Base(walker.Path())
		if m.glob != "" {
			if ok, _ := path.Match(m.glob, name); !ok {
				continue
			}
		}
		rel, err := filepath.Rel(m.root, walker.Path())
		if err != nil {
			rel = name
		}

		u := url.URL{
			Scheme: "sftp",
			User:   url.User(m.config.User),
			Host:   m.config.Address(),
			Path:   walker.Path(),
		}
		e := engine.NewEntry(u.String(), rel)
		e.Size = walker.Stat().Size()
		e.SetMeta("remote_size", walker.Stat().Size())
		e.SetMeta("date", walker.Stat().ModTime().UTC().Format("2006-01-02"))
		entries = append(entries, e)

		select {
		case <-ctx.Done():
			return nil, engine.NewPermanentError("resolution cancelled", ctx.Err()).
				WithCode(engine.ErrCodeCancelled)
		default:
		}
	}
	return entries, nil
}

// SFTPFetcher retrieves sftp:// URLs. Register it on the engine's fetcher
// mux alongside the SFTP module:
//
//	mux.Register("sftp", modules.NewSFTPFetcher(cfg))
type SFTPFetcher struct {
	config SFTPConfig
}

// NewSFTPFetcher creates a fetcher bound to one server's credentials.
func NewSFTPFetcher(cfg SFTPConfig) *SFTPFetcher {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	return &SFTPFetcher{config: cfg}
}

// Fetch implements engine.Fetcher.
func (f *SFTPFetcher) Fetch(ctx context.Context, rawURL, dst string) (int64, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, engine.NewPermanentError("invalid source URL", err).
			WithCode(engine.ErrCodeConfig).WithSource(rawURL)
	}

	cfg := f.config
	if host := u.Hostname(); host != "" {
		cfg.Host = host
	}
	if port := u.Port(); port != "" {
		cfg.Port = toInt(port, cfg.Port)
	}
	if u.User != nil && u.User.Username() != "" {
		cfg.User = u.User.Username()
	}

	conn, client, err := cfg.dial()
	if err != nil {
		return 0, engine.NewTransientError("sftp source unavailable", err).
			WithCode(engine.ErrCodeSourceUnavailable).WithSource(rawURL)
	}
	defer conn.Close()
	defer client.Close()

	src, err := client.Open(u.Path)
	if err != nil {
		if strings.Contains(err.Error(), "not exist") {
			return 0, engine.NewPermanentError("remote file not found", err).
				WithCode(engine.ErrCodeNotFound).WithSource(rawURL)
		}
		return 0, engine.NewTransientError("opening remote file", err).
			WithCode(engine.ErrCodeRetrievalFailed).WithSource(rawURL)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, engine.NewPermanentError("creating destination directory", err).
			WithCode(engine.ErrCodeRetrievalFailed).WithSource(rawURL)
	}
	out, err := os.Create(dst)
	if err != nil {
		return 0, engine.NewPermanentError("opening destination", err).
			WithCode(engine.ErrCodeRetrievalFailed).WithSource(rawURL)
	}
	defer out.Close()

	done := make(chan struct{})
	var n int64
	var copyErr error
	go func() {
		n, copyErr = io.Copy(out, src)
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		conn.Close()
		<-done
		return n, engine.NewTransientError("transfer interrupted", ctx.Err()).
			WithCode(engine.ErrCodeTimeout).WithSource(rawURL)
	}
	if copyErr != nil {
		return n, engine.NewTransientError("reading remote file", copyErr).
			WithCode(engine.ErrCodeRetrievalFailed).WithSource(rawURL)
	}
	return n, nil
}

func toInt(v interface{}, def int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	return def
}
