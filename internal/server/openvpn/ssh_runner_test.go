package openvpn

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

func newHostKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	key, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return key
}

func writeClientKey(t *testing.T, dir string) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)

	path := filepath.Join(dir, "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}

func TestNewSSHRunner_PinsHostKey(t *testing.T) {
	dir := t.TempDir()
	keyPath := writeClientKey(t, dir)

	addr := "127.0.0.1:2222"
	pinned := newHostKey(t)
	knownHosts := filepath.Join(dir, "known_hosts")
	require.NoError(t, os.WriteFile(knownHosts, []byte(knownhosts.Line([]string{addr}, pinned)+"\n"), 0o600))

	runner, err := NewSSHRunner(addr, "root", keyPath, knownHosts, "")
	require.NoError(t, err)
	assert.Equal(t, "sacli", runner.sacliPath)

	remote := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 2222}
	assert.NoError(t, runner.config.HostKeyCallback(addr, remote, pinned))

	err = runner.config.HostKeyCallback(addr, remote, newHostKey(t))
	var keyErr *knownhosts.KeyError
	require.ErrorAs(t, err, &keyErr)
	assert.NotEmpty(t, keyErr.Want, "a changed host key must be reported as a mismatch")
}

func TestNewSSHRunner_MissingKnownHosts(t *testing.T) {
	dir := t.TempDir()
	keyPath := writeClientKey(t, dir)

	_, err := NewSSHRunner("127.0.0.1:22", "root", keyPath, filepath.Join(dir, "absent"), "sacli")
	assert.ErrorContains(t, err, "known_hosts")
}
