package transfer

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/limnc/flaked/config"
)

// memServer serves one shared in-memory filesystem to every session dialled.
type memServer struct {
	t        *testing.T
	handlers sftp.Handlers
	opened   atomic.Int32
	closed   atomic.Int32
}

func newMemServer(t *testing.T) *memServer {
	return &memServer{t: t, handlers: sftp.InMemHandler()}
}

func (m *memServer) dial(ctx context.Context) (*session, error) {
	serverConn, clientConn := net.Pipe()
	server := sftp.NewRequestServer(serverConn, m.handlers)
	go server.Serve()

	client, err := sftp.NewClientPipe(clientConn, clientConn)
	if err != nil {
		server.Close()
		return nil, err
	}
	m.opened.Add(1)
	return &session{
		client: client,
		close: func() error {
			m.closed.Add(1)
			client.Close()
			return server.Close()
		},
	}, nil
}

// inspect opens a separate session for assertions.
func (m *memServer) inspect() *sftp.Client {
	m.t.Helper()
	s, err := m.dial(context.Background())
	require.NoError(m.t, err)
	m.t.Cleanup(func() { s.close() })
	return s.client
}

func newTestSFTP(t *testing.T, prefix string) (*SFTPClient, *memServer) {
	mem := newMemServer(t)
	c := NewSFTP(config.SFTPConfig{Host: "mem", Port: 22, Prefix: prefix, Username: "lake"}, zaptest.NewLogger(t).Sugar())
	c.dial = mem.dial
	return c, mem
}

func localFiles(t *testing.T, names ...string) []string {
	t.Helper()
	dir := t.TempDir()
	out := make([]string, len(names))
	for i, name := range names {
		out[i] = filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(out[i], []byte("content of "+name), 0644))
	}
	return out
}

func readRemote(t *testing.T, c *sftp.Client, path string) string {
	t.Helper()
	f, err := c.Open(path)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	return string(data)
}

func TestSFTPUpload_CreatesTreeAndUploads(t *testing.T) {
	c, mem := newTestSFTP(t, "/data/lake")
	files := localFiles(t, "a.csv", "b.csv")

	uploaded, err := c.Upload(context.Background(), files, "inst1")
	require.NoError(t, err)
	assert.Equal(t, files, uploaded)

	remote := mem.inspect()
	assert.Equal(t, "content of a.csv", readRemote(t, remote, "/data/lake/inst1/a.csv"))
	assert.Equal(t, "content of b.csv", readRemote(t, remote, "/data/lake/inst1/b.csv"))
	assert.Equal(t, mem.opened.Load()-1, mem.closed.Load(), "upload session closed")
}

func TestSFTPUpload_ExistingDirectoriesAndOverwrite(t *testing.T) {
	c, mem := newTestSFTP(t, "data")
	files := localFiles(t, "a.csv")

	_, err := c.Upload(context.Background(), files, "inst1")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(files[0], []byte("v2"), 0644))
	uploaded, err := c.Upload(context.Background(), files, "inst1")
	require.NoError(t, err)
	assert.Equal(t, files, uploaded)

	assert.Equal(t, "v2", readRemote(t, mem.inspect(), "/data/inst1/a.csv"))
}

func TestSFTPUpload_FailureAbortsRemaining(t *testing.T) {
	c, mem := newTestSFTP(t, "data")
	files := localFiles(t, "a.csv", "c.csv")
	files = []string{files[0], filepath.Join(filepath.Dir(files[0]), "missing.csv"), files[1]}

	uploaded, err := c.Upload(context.Background(), files, "inst1")
	require.Error(t, err)
	assert.Nil(t, uploaded)
	assert.Equal(t, mem.opened.Load(), mem.closed.Load(), "session closed on failure")

	remote := mem.inspect()
	_, err = remote.Stat("/data/inst1/a.csv")
	assert.NoError(t, err)
	_, err = remote.Stat("/data/inst1/c.csv")
	assert.True(t, os.IsNotExist(err), "upload stopped at the failing file")
}

func TestSFTPUpload_PrefixSegmentIsAFile(t *testing.T) {
	c, mem := newTestSFTP(t, "data")
	remote := mem.inspect()
	f, err := remote.Create("/data")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = c.Upload(context.Background(), localFiles(t, "a.csv"), "inst1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestSFTPUpload_DialFailure(t *testing.T) {
	c := NewSFTP(config.SFTPConfig{Host: "127.0.0.1", Port: 1, Username: "u", Password: "p"}, zaptest.NewLogger(t).Sugar())

	_, err := c.Upload(context.Background(), localFiles(t, "a.csv"), "inst1")
	require.Error(t, err)
}

func TestSFTP_RequiresCredentials(t *testing.T) {
	c := NewSFTP(config.SFTPConfig{Host: "h", Port: 22, Username: "u"}, zaptest.NewLogger(t).Sugar())
	_, err := c.authMethods()
	require.Error(t, err)
}

func TestRemoteDirAndTarget(t *testing.T) {
	assert.Equal(t, "data/inst1", RemoteDir("data", "inst1"))
	assert.Equal(t, "/srv/inst1", RemoteDir("/srv/", "inst1"))
	assert.Equal(t, "inst1", RemoteDir("", "inst1"))

	c := NewSFTP(config.SFTPConfig{Host: "h", Prefix: "data", Username: "u"}, zaptest.NewLogger(t).Sugar())
	assert.Equal(t, "u@h:data/inst1", c.Target("inst1"))
}
