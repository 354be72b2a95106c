package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	lberrors "github.com/mir00r/domain-router/internal/errors"
	"github.com/mir00r/domain-router/internal/ports"
	"github.com/mir00r/domain-router/internal/record"
	"github.com/mir00r/domain-router/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord(host string) *record.Record {
	return &record.Record{
		Domain:         host,
		RoutingMode:    "simple",
		DefaultBackend: "be_web",
		ACLRules:       []record.ACLRuleRecord{},
		Backends: []record.PoolRecord{{
			Name:    "be_web",
			Mode:    "http",
			Balance: "roundrobin",
			Options: record.OptionsRecord{HealthCheck: true},
			Servers: []record.ServerRecord{{Name: "web1", Address: "10.0.0.1:80", AddressType: "ipv4"}},
		}},
		SSL: record.SSLRecord{Mode: "none"},
	}
}

func stores(t *testing.T) map[string]ports.RecordStore {
	fileStore, err := NewFileRecordRepository(filepath.Join(t.TempDir(), "records"), logger.NewNop())
	require.NoError(t, err)
	return map[string]ports.RecordStore{
		"memory": NewInMemoryRecordRepository(),
		"file":   fileStore,
	}
}

func TestRecordStores(t *testing.T) {
	ctx := context.Background()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(ctx, "example.com")
			assert.True(t, lberrors.HasCode(err, lberrors.ErrCodeRecordNotFound))

			require.NoError(t, store.Put(ctx, sampleRecord("example.com")))
			require.NoError(t, store.Put(ctx, sampleRecord("*.apps.example.com")))
			require.NoError(t, store.Put(ctx, sampleRecord("b.example.com")))

			got, err := store.Get(ctx, "EXAMPLE.com")
			require.NoError(t, err)
			assert.Equal(t, sampleRecord("example.com"), got)

			got.Backends[0].Name = "mutated"
			again, err := store.Get(ctx, "example.com")
			require.NoError(t, err)
			assert.Equal(t, "be_web", again.Backends[0].Name)

			domains, err := store.List(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"*.apps.example.com", "b.example.com", "example.com"}, domains)

			updated := sampleRecord("example.com")
			updated.RoutingMode = "advanced"
			require.NoError(t, store.Put(ctx, updated))
			got, err = store.Get(ctx, "example.com")
			require.NoError(t, err)
			assert.Equal(t, "advanced", got.RoutingMode)

			require.NoError(t, store.Delete(ctx, "b.example.com"))
			assert.True(t, lberrors.HasCode(store.Delete(ctx, "b.example.com"), lberrors.ErrCodeRecordNotFound))

			domains, err = store.List(ctx)
			require.NoError(t, err)
			assert.Len(t, domains, 2)
		})
	}
}

func TestFileStoreNormalizesLegacyFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileRecordRepository(dir, logger.NewNop())
	require.NoError(t, err)

	legacy := `{"domain":"legacy.example.com","backend":{"host":"127.0.0.1","port":3000}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "legacy.example.com.json"), []byte(legacy), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	domains, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"legacy.example.com"}, domains)

	rec, err := store.Get(context.Background(), "legacy.example.com")
	require.NoError(t, err)
	require.Len(t, rec.Backends, 1)
	assert.Equal(t, "be_default", rec.Backends[0].Name)
	assert.Equal(t, "127.0.0.1:3000", rec.Backends[0].Servers[0].Address)
}

func TestFileStoreRejectsCorruptRecord(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileRecordRepository(dir, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.example.com.json"), []byte("{"), 0o600))
	_, err = store.Get(context.Background(), "bad.example.com")
	assert.True(t, lberrors.HasCode(err, lberrors.ErrCodeInvalidRecord))
}

func TestNewFileRecordRepositoryRequiresDir(t *testing.T) {
	_, err := NewFileRecordRepository(" ", nil)
	assert.True(t, lberrors.HasCode(err, lberrors.ErrCodeMissingField))
}
