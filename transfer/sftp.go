package transfer

import (
	"context"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/limnc/flaked/config"
	"github.com/limnc/flaked/errors"
	"github.com/limnc/flaked/logger"
)

// DialTimeout bounds the TCP connect and SSH handshake.
const DialTimeout = 30 * time.Second

// session is an open SFTP client and whatever must be closed with it.
type session struct {
	client *sftp.Client
	close  func() error
}

// SFTPClient uploads over SFTP. One SSH session is opened per Upload call.
type SFTPClient struct {
	cfg    config.SFTPConfig
	logger *zap.SugaredLogger
	dial   func(ctx context.Context) (*session, error)
}

// NewSFTP creates an SFTP client for cfg.
func NewSFTP(cfg config.SFTPConfig, log *zap.SugaredLogger) *SFTPClient {
	c := &SFTPClient{cfg: cfg, logger: log}
	c.dial = c.dialSSH
	return c
}

// Target returns user@host:prefix/collection.
func (c *SFTPClient) Target(collection string) string {
	return c.cfg.Username + "@" + c.cfg.Host + ":" + RemoteDir(c.cfg.Prefix, collection)
}

// Upload implements Client.
func (c *SFTPClient) Upload(ctx context.Context, files []string, collection string) ([]string, error) {
	s, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := s.close(); err != nil {
			c.logger.Debugw("Closing sftp session failed", logger.FieldError, err)
		}
	}()

	dir := RemoteDir(c.cfg.Prefix, collection)
	if err := mkdirAll(s.client, dir); err != nil {
		return nil, err
	}

	uploaded := make([]string, 0, len(files))
	for _, local := range files {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "upload cancelled")
		}
		remote := path.Join(dir, filepath.Base(local))
		if err := put(s.client, local, remote); err != nil {
			return nil, err
		}
		c.logger.Debugw("Uploaded file", logger.FieldFile, local, logger.FieldRemote, remote)
		uploaded = append(uploaded, local)
	}
	return uploaded, nil
}

// mkdirAll creates every missing segment of dir. Existing directories are
// fine, an existing non-directory is an error.
func mkdirAll(client *sftp.Client, dir string) error {
	current := ""
	if strings.HasPrefix(dir, "/") {
		current = "/"
	}
	for _, segment := range strings.Split(dir, "/") {
		if segment == "" || segment == "." {
			continue
		}
		current = path.Join(current, segment)

		info, err := client.Stat(current)
		if err == nil {
			if !info.IsDir() {
				return errors.Newf("remote path %s exists and is not a directory", current)
			}
			continue
		}
		if !os.IsNotExist(err) {
			return errors.Wrapf(err, "failed to stat remote %s", current)
		}
		if err := client.Mkdir(current); err != nil {
			// Lost a race with a concurrent upload creating the same folder
			if info, statErr := client.Stat(current); statErr == nil && info.IsDir() {
				continue
			}
			return errors.Wrapf(err, "failed to create remote directory %s", current)
		}
	}
	return nil
}

func put(client *sftp.Client, local, remote string) error {
	src, err := os.Open(local)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", local)
	}
	defer src.Close()

	dst, err := client.OpenFile(remote, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return errors.Wrapf(err, "failed to create remote %s", remote)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return errors.Wrapf(err, "failed to upload %s", local)
	}
	if err := dst.Close(); err != nil {
		return errors.Wrapf(err, "failed to finish upload of %s", local)
	}
	return nil
}

func (c *SFTPClient) dialSSH(ctx context.Context) (*session, error) {
	auth, err := c.authMethods()
	if err != nil {
		return nil, err
	}
	hostKey, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	dialer := net.Dialer{Timeout: DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.WithHint(
			errors.Wrapf(err, "failed to connect to %s", addr),
			"check settings.sftp.host and settings.sftp.port")
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            c.cfg.Username,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         DialTimeout,
	})
	if err != nil {
		conn.Close()
		return nil, errors.WithHint(
			errors.Wrapf(err, "ssh handshake with %s failed", addr),
			"check settings.sftp credentials")
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)
	c.logger.Debugw("SSH session established", logger.FieldHost, c.cfg.Host, logger.FieldPort, c.cfg.Port)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, errors.Wrapf(err, "failed to start sftp subsystem on %s", addr)
	}

	return &session{
		client: client,
		close: func() error {
			return errors.CombineErrors(client.Close(), sshClient.Close())
		},
	}, nil
}

func (c *SFTPClient) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if c.cfg.KeyFile != "" {
		pem, err := os.ReadFile(c.cfg.KeyFile)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read key file %s", c.cfg.KeyFile)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse key file %s", c.cfg.KeyFile)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if c.cfg.Password != "" {
		password := c.cfg.Password
		methods = append(methods,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}))
	}
	if len(methods) == 0 {
		return nil, errors.WithHint(
			errors.New("no sftp credentials configured"),
			"set settings.sftp.password or settings.sftp.key_file")
	}
	return methods, nil
}

func (c *SFTPClient) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.cfg.KnownHosts == "" {
		c.logger.Debugw("Host key verification disabled", logger.FieldHost, c.cfg.Host)
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(c.cfg.KnownHosts)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load known hosts %s", c.cfg.KnownHosts)
	}
	return cb, nil
}
