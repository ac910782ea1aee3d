package crypto

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeystoreCreateAndLoad(t *testing.T) {
	dir := t.TempDir()
	ks := Open(dir)
	assert.False(t, ks.Exists())

	id, err := ks.Create("correct horse battery staple")
	require.NoError(t, err)
	assert.NotEmpty(t, id.NodeID())
	assert.True(t, ks.Exists())

	loaded, err := ks.Load("correct horse battery staple")
	require.NoError(t, err)
	assert.Equal(t, id.NodeID(), loaded.NodeID())
	assert.Equal(t, id.Private, loaded.Private)
}

func TestKeystoreLoadWrongPassphrase(t *testing.T) {
	dir := t.TempDir()
	ks := Open(dir)

	_, err := ks.Create("passphrase-one")
	require.NoError(t, err)

	_, err = ks.Load("passphrase-two")
	assert.Error(t, err)
}

func TestKeystoreNodeIDStable(t *testing.T) {
	dir := t.TempDir()
	ks := Open(dir)

	id, err := ks.Create("pw")
	require.NoError(t, err)

	first := id.NodeID()
	second := id.NodeID()
	assert.Equal(t, first, second)
}

func TestSwarmKeyRoundtrip(t *testing.T) {
	key, err := GenerateSwarmKey()
	require.NoError(t, err)

	dir := t.TempDir()
	path := dir + "/swarm.key"
	require.NoError(t, WriteSwarmKeyFile(path, key))

	loaded, err := LoadSwarmKeyFile(path)
	require.NoError(t, err)
	assert.Equal(t, key, loaded)
}

func TestLoadSwarmKeyFileRejectsWrongLength(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/short.key"
	require.NoError(t, os.WriteFile(path, []byte("deadbeef"), 0o600))

	_, err := LoadSwarmKeyFile(path)
	assert.Error(t, err)
}

func TestBootstrapTokenRoundtrip(t *testing.T) {
	tok, err := NewBootstrapToken("10.0.0.5:4001")
	require.NoError(t, err)

	parsed, err := ParseBootstrapToken(tok.String())
	require.NoError(t, err)
	assert.Equal(t, tok.Token, parsed.Token)
	assert.Equal(t, tok.BindAddr, parsed.BindAddr)
}

func TestParseBootstrapTokenMalformed(t *testing.T) {
	_, err := ParseBootstrapToken("not-a-token")
	assert.Error(t, err)
}
