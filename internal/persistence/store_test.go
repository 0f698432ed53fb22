package persistence

import (
	"net/netip"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rkvashchuk/l4proxyd/internal/proxycfg"
	"github.com/rkvashchuk/l4proxyd/internal/registry"
)

func sampleDefinition(name string, port uint16) *registry.Definition {
	return &registry.Definition{
		ID:   uuid.New(),
		Name: name,
		Config: proxycfg.Config{
			ListenIP:           netip.MustParseAddr("127.0.0.1"),
			ListenPort:         port,
			DstIP:              netip.MustParseAddr("192.168.1.100"),
			DstPort:            80,
			Protocol:           proxycfg.ProtocolTCP,
			ConnectTimeoutSecs: 30,
			IdleTimeoutSecs:    300,
			LogLevel:           proxycfg.LogLevelInfo,
		},
		Status:    registry.StatusStopped,
		AutoStart: false,
	}
}

func TestStore_AddAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instances.toml")
	store := New(path)

	def := sampleDefinition("Test Instance", 8080)
	require.NoError(t, store.AddInstance(def))

	loaded, err := New(path).Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, def.Name, loaded[0].Name)
	assert.Equal(t, def.ID, loaded[0].ID)
	assert.Equal(t, registry.StatusStopped, loaded[0].Status)
}

func TestStore_LoadMissingFileReturnsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.toml")
	defs, err := New(path).Load()
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestStore_UpdateAndRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instances.toml")
	store := New(path)

	def := sampleDefinition("Instance", 9000)
	require.NoError(t, store.AddInstance(def))

	def.Name = "Renamed"
	require.NoError(t, store.UpdateInstance(def))

	loaded, err := New(path).Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "Renamed", loaded[0].Name)

	require.NoError(t, store.RemoveInstance(def.ID))
	loaded, err = New(path).Load()
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestStore_ExportImport(t *testing.T) {
	path1 := filepath.Join(t.TempDir(), "a.toml")
	store1 := New(path1)

	d1 := sampleDefinition("Instance 1", 8080)
	d1.AutoStart = true
	d2 := sampleDefinition("Instance 2", 8081)
	d2.Config.Protocol = proxycfg.ProtocolUDP
	require.NoError(t, store1.AddInstance(d1))
	require.NoError(t, store1.AddInstance(d2))

	exported, err := store1.Export()
	require.NoError(t, err)

	path2 := filepath.Join(t.TempDir(), "b.toml")
	store2 := New(path2)
	imported, err := store2.Import(exported)
	require.NoError(t, err)
	require.Len(t, imported, 2)

	names := []string{imported[0].Name, imported[1].Name}
	assert.Contains(t, names, "Instance 1")
	assert.Contains(t, names, "Instance 2")
}

func TestStore_CreateBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instances.toml")
	store := New(path)
	require.NoError(t, store.AddInstance(sampleDefinition("Backup Test", 8080)))

	backupPath, err := store.CreateBackup()
	require.NoError(t, err)
	assert.FileExists(t, backupPath)
}
