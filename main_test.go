package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recordimport/internal/etl"
	"recordimport/internal/storage"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	err := app.Run(append([]string{"recordimport"}, args...))
	return out.String(), err
}

func TestSetupLogger_RejectsUnknownLevel(t *testing.T) {
	_, err := runApp(t, "--log-level", "loud", "history", "--history", filepath.Join(t.TempDir(), "h.db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestRunCommand_DryRunWritesOutput(t *testing.T) {
	t.Setenv("MONGO_URL", "")
	dir := t.TempDir()
	input := filepath.Join(dir, "input.yaml")
	require.NoError(t, os.WriteFile(input, []byte(`
collectionName: things
sources:
  inline:
    - {a: 1}
    - {a: 2}
`), 0o644))
	outPath := filepath.Join(dir, "stats.json")
	historyPath := filepath.Join(dir, "history.db")

	out, err := runApp(t, "--log-level", "error", "run", "-c", input, "--debug", "-o", outPath, "--history", historyPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Import stats: imported: 0 updated: 0 failed: 0")
	assert.FileExists(t, outPath)

	out, err = runApp(t, "history", "--history", historyPath, "--format", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "things")
	assert.Contains(t, out, "success (dry run)")
}

func TestRunCommand_ConfigErrorFails(t *testing.T) {
	t.Setenv("MONGO_URL", "")
	input := filepath.Join(t.TempDir(), "input.yaml")
	require.NoError(t, os.WriteFile(input, []byte("collectionName: things\n"), 0o644))

	_, err := runApp(t, "--log-level", "error", "run", "-c", input, "--history", filepath.Join(t.TempDir(), "h.db"))
	assert.ErrorIs(t, err, etl.ErrConfig)
}

func TestHistoryCommand_Formats(t *testing.T) {
	historyPath := filepath.Join(t.TempDir(), "history.db")
	db, err := storage.New(historyPath)
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, storage.NewRunStore(db).CreateRun(context.Background(), &storage.RunLog{
		Collection: "c", StartedAt: now, FinishedAt: now, Status: "success",
		Stats: etl.ImportStats{Imported: 5},
	}))
	require.NoError(t, db.Close())

	out, err := runApp(t, "history", "--history", historyPath, "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"imported": 5`)

	out, err = runApp(t, "history", "--history", historyPath, "--format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "imported: 5")

	_, err = runApp(t, "history", "--history", historyPath, "--format", "xml")
	assert.Error(t, err)
}

func TestScheduleCommand_RequiresExpression(t *testing.T) {
	t.Setenv("MONGO_URL", "")
	input := filepath.Join(t.TempDir(), "input.yaml")
	require.NoError(t, os.WriteFile(input, []byte("sources: {inline: []}\n"), 0o644))

	_, err := runApp(t, "--log-level", "error", "schedule", "-c", input, "--history", filepath.Join(t.TempDir(), "h.db"))
	assert.ErrorIs(t, err, etl.ErrConfig)
}
