package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"template-studio/internal/config"
	"template-studio/internal/domain/entity"
	"template-studio/internal/infra/adapter/persistence/memory"
)

func testApp(t *testing.T) (*app, *memory.BackupRepo) {
	t.Helper()
	t.Setenv("BACKUP_STORE", "memory")
	t.Setenv("LOG_LEVEL", "error")

	repo := memory.NewBackupRepo()
	a := &app{}
	a.openStores = func(_ context.Context, cfg *config.ResilienceConfig, logger *slog.Logger) (*stores, error) {
		return &stores{primary: guard(cfg, config.StoreMemory, repo, logger)}, nil
	}
	return a, repo
}

func run(t *testing.T, a *app, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := a.rootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBackupAndRecover(t *testing.T) {
	a, repo := testApp(t)

	out, err := run(t, a, "Dear {{name}},\nThanks for your order.", "backup", "--doc", "doc-42", "--title", "Order reply")
	require.NoError(t, err)
	assert.Equal(t, "backup stored\n", out)
	assert.Equal(t, 1, repo.Len())

	out, err = run(t, a, "", "recover", "--doc", "doc-42")
	require.NoError(t, err)
	assert.Equal(t, "Dear {{name}},\nThanks for your order.", out)

	out, err = run(t, a, "", "recover", "--doc", "doc-42", "--json")
	require.NoError(t, err)
	var rec entity.BackupRecord
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, "Order reply", rec.Title)
	assert.Equal(t, 1, rec.Meta.Version)
}

func TestBackup_FromFileAndRole(t *testing.T) {
	a, _ := testApp(t)
	path := filepath.Join(t.TempDir(), "draft.txt")
	require.NoError(t, os.WriteFile(path, []byte("Unsaved welcome template"), 0o600))

	_, err := run(t, a, "", "backup", "--role", " Writer ", "--file", path)
	require.NoError(t, err)

	out, err := run(t, a, "", "recover", "--role", "writer")
	require.NoError(t, err)
	assert.Equal(t, "Unsaved welcome template", out)
}

func TestBackup_RejectsBlankContent(t *testing.T) {
	a, repo := testApp(t)

	_, err := run(t, a, "   \n", "backup", "--doc", "doc-1")
	assert.Error(t, err)
	assert.Equal(t, 0, repo.Len())
}

func TestRecover_Missing(t *testing.T) {
	a, _ := testApp(t)

	_, err := run(t, a, "", "recover", "--doc", "nope")
	assert.ErrorIs(t, err, errNoBackup)
}

func TestKeyFlags_Required(t *testing.T) {
	a, _ := testApp(t)

	_, err := run(t, a, "", "verify")
	assert.Error(t, err)

	_, err = run(t, a, "", "verify", "--doc", "a", "--role", "admin")
	assert.Error(t, err)
}

func TestVerify(t *testing.T) {
	a, repo := testApp(t)
	ts := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	good := "Hello {{customer}}"
	require.NoError(t, repo.Write(context.Background(), &entity.BackupRecord{
		ID: "r1", DocumentID: "good", Content: good, CreatedAt: ts, UpdatedAt: ts,
		Meta: entity.BackupMeta{Version: 2, Checksum: entity.ContentChecksum(good)},
	}))
	require.NoError(t, repo.Write(context.Background(), &entity.BackupRecord{
		ID: "r2", DocumentID: "bad", Content: "Hello {{customer}}", CreatedAt: ts, UpdatedAt: ts,
		Meta: entity.BackupMeta{Version: 1, Checksum: entity.ContentChecksum("something else")},
	}))

	out, err := run(t, a, "", "verify", "--doc", "good")
	require.NoError(t, err)
	var got verifyOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.True(t, got.Valid)
	assert.Equal(t, "doc:good", got.Key)
	assert.Equal(t, 2, got.Version)
	assert.Nil(t, got.Salvage)

	out, err = run(t, a, "", "verify", "--doc", "bad")
	assert.ErrorIs(t, err, errCorrupted)
	got = verifyOutput{}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.False(t, got.Valid)
	assert.Contains(t, got.Details, "checksum mismatch")
	require.NotNil(t, got.Salvage)

	_, err = run(t, a, "", "verify", "--doc", "absent")
	assert.ErrorIs(t, err, errNoBackup)
}

func TestClear(t *testing.T) {
	a, repo := testApp(t)

	_, err := run(t, a, "Draft", "backup", "--doc", "doc-7")
	require.NoError(t, err)

	out, err := run(t, a, "", "clear", "--doc", "doc-7")
	require.NoError(t, err)
	assert.Equal(t, "backup removed\n", out)
	assert.Equal(t, 0, repo.Len())

	out, err = run(t, a, "", "clear", "--doc", "doc-7")
	require.NoError(t, err)
	assert.Equal(t, "nothing to remove\n", out)
}

func TestJanitorOnce(t *testing.T) {
	a, repo := testApp(t)
	t.Setenv("BACKUP_RETENTION", "24h")
	old := time.Now().Add(-72 * time.Hour)
	require.NoError(t, repo.Write(context.Background(), &entity.BackupRecord{
		ID: "old", DocumentID: "stale", Content: "Old draft", CreatedAt: old, UpdatedAt: old,
		Meta: entity.BackupMeta{Version: 1},
	}))
	_, err := run(t, a, "Fresh draft", "backup", "--doc", "fresh")
	require.NoError(t, err)

	out, err := run(t, a, "", "janitor", "--once")
	require.NoError(t, err)

	var pruned map[string]int
	require.NoError(t, json.Unmarshal([]byte(out), &pruned))
	assert.Equal(t, map[string]int{"backup-store:memory": 1}, pruned)
	assert.Equal(t, 1, repo.Len())
}

func TestConfigFile(t *testing.T) {
	a, _ := testApp(t)
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("recovery:\n  max_concurrent: 0\n"), 0o600))
	_, err := run(t, a, "", "--config", bad, "recover", "--doc", "x")
	assert.ErrorContains(t, err, "config validation failed")

	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("recovery:\n  max_concurrent: 1\n"), 0o600))
	_, err = run(t, a, "", "--config", good, "recover", "--doc", "x")
	assert.ErrorIs(t, err, errNoBackup)
	assert.Equal(t, 1, a.cfg.Recovery.MaxConcurrent)
}

func TestOpenStores(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("memory with badger alternate", func(t *testing.T) {
		cfg := config.DefaultResilienceConfig()
		cfg.Store.Kind = config.StoreMemory
		cfg.Store.Alternate = config.StoreBadger
		cfg.Store.BadgerPath = t.TempDir()

		s, err := openStores(context.Background(), &cfg, logger)
		require.NoError(t, err)
		defer func() { assert.NoError(t, s.Close()) }()

		require.NotNil(t, s.alternate)
		targets := s.Targets()
		require.Len(t, targets, 2)
		assert.Equal(t, "backup-store:memory", targets[0].Name)
		assert.Equal(t, "backup-store:badger", targets[1].Name)
		assert.Len(t, s.Breakers(), 2)

		c := newCoordinator(&cfg, s, logger)
		require.True(t, c.CreateBackup(context.Background(), "Mirrored draft", "doc-1", "", ""))
		mirrored, err := s.alternate.Read(context.Background(), entity.DocumentKey("doc-1"))
		require.NoError(t, err)
		require.NotNil(t, mirrored)
		assert.Equal(t, "Mirrored draft", mirrored.Content)
	})

	t.Run("unknown kind", func(t *testing.T) {
		cfg := config.DefaultResilienceConfig()
		cfg.Store.Kind = "sqlite"
		_, err := openStores(context.Background(), &cfg, logger)
		assert.ErrorContains(t, err, "unknown backup store")
	})
}
