package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/extraction-cli/internal/config"
	"github.com/xkilldash9x/extraction-cli/internal/credentials"
	"github.com/xkilldash9x/extraction-cli/internal/extraction"
	"github.com/xkilldash9x/extraction-cli/internal/history"
	"github.com/xkilldash9x/extraction-cli/internal/observability"
)

const testStore = `{
  "accounts": [
    {"name": "Alice", "username": "alice", "password": "pa", "database": "PROD", "priority": 1,
     "status": "valid", "state": "valid", "last_used": null, "status_changed_at": null},
    {"name": "Bob", "username": "bob", "password": "pb", "database": "PROD", "priority": 2,
     "status": "failed", "state": "valid", "last_used": null, "status_changed_at": null}
  ]
}`

type testEnv struct {
	dir       string
	storePath string
	logPath   string
	cfgPath   string
}

// newTestEnv writes a credential store and a config file pointing at it.
// extra is appended to the YAML config.
func newTestEnv(t *testing.T, extra string) testEnv {
	t.Helper()
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)

	dir := t.TempDir()
	env := testEnv{
		dir:       dir,
		storePath: filepath.Join(dir, "credentials.json"),
		logPath:   filepath.Join(dir, "activity.log"),
		cfgPath:   filepath.Join(dir, "config.yaml"),
	}
	require.NoError(t, os.WriteFile(env.storePath, []byte(testStore), 0o600))

	content := fmt.Sprintf(`
logger:
  level: fatal
  log_file: ""
credentials:
  path: %s
  lock_timeout: 2s
queue:
  lock_path: %s
%s`, env.storePath, filepath.Join(dir, "queue.lock"), extra)
	require.NoError(t, os.WriteFile(env.cfgPath, []byte(content), 0o644))
	return env
}

func executeCommand(t *testing.T, d deps, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(d)
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

type fakeExtractor struct {
	report string
	date   time.Time
	res    *extraction.Result
	err    error
}

func (f *fakeExtractor) Run(ctx context.Context, report string, date time.Time) (*extraction.Result, error) {
	f.report, f.date = report, date
	return f.res, f.err
}

func extractorDeps(ex *fakeExtractor, cleaned *bool) deps {
	return deps{extractor: func(context.Context, *config.Config, *zap.Logger) (extractor, func(), error) {
		return ex, func() { *cleaned = true }, nil
	}}
}

func TestVersion(t *testing.T) {
	out, err := executeCommand(t, deps{}, "--version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)

	out, err = executeCommand(t, deps{}, "version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestRunCommand(t *testing.T) {
	env := newTestEnv(t, "")

	t.Run("prints the terminal message", func(t *testing.T) {
		ex := &fakeExtractor{res: &extraction.Result{Message: extraction.SuccessMessage}}
		var cleaned bool
		out, err := executeCommand(t, extractorDeps(ex, &cleaned), "--config", env.cfgPath, "run", "duk008", "2024-02-10")
		require.NoError(t, err)
		assert.Equal(t, "Success\n", out)
		assert.Equal(t, "duk008", ex.report)
		assert.Equal(t, time.Date(2024, 2, 10, 0, 0, 0, 0, time.Local), ex.date)
		assert.True(t, cleaned)
	})

	t.Run("no date", func(t *testing.T) {
		ex := &fakeExtractor{res: &extraction.Result{Message: extraction.SuccessMessage}}
		var cleaned bool
		_, err := executeCommand(t, extractorDeps(ex, &cleaned), "--config", env.cfgPath, "run", "ic01")
		require.NoError(t, err)
		assert.True(t, ex.date.IsZero())
	})

	t.Run("failure prints message and returns error", func(t *testing.T) {
		ex := &fakeExtractor{
			res: &extraction.Result{Message: "Extraction failed after 10 attempts. Last error: Runtime error: boom"},
			err: extraction.ErrRetriesExhausted,
		}
		var cleaned bool
		out, err := executeCommand(t, extractorDeps(ex, &cleaned), "--config", env.cfgPath, "run", "duk008")
		assert.ErrorIs(t, err, extraction.ErrRetriesExhausted)
		assert.Contains(t, out, "Extraction failed after 10 attempts.")
		assert.True(t, cleaned)
	})

	t.Run("invalid date", func(t *testing.T) {
		ex := &fakeExtractor{}
		var cleaned bool
		_, err := executeCommand(t, extractorDeps(ex, &cleaned), "--config", env.cfgPath, "run", "duk008", "10/02/2024")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expected YYYY-MM-DD")
		assert.Empty(t, ex.report)
	})

	t.Run("factory error", func(t *testing.T) {
		d := deps{extractor: func(context.Context, *config.Config, *zap.Logger) (extractor, func(), error) {
			return nil, nil, errors.New("no browser")
		}}
		_, err := executeCommand(t, d, "--config", env.cfgPath, "run", "duk008")
		assert.ErrorContains(t, err, "failed to initialize extraction: no browser")
	})

	t.Run("arguments", func(t *testing.T) {
		_, err := executeCommand(t, deps{}, "--config", env.cfgPath, "run")
		assert.Error(t, err)
	})
}

func TestConfigValidationAndEnv(t *testing.T) {
	env := newTestEnv(t, "")
	t.Setenv("EXTRACTION_EXTRACTION_MAX_RETRIES", "0")

	ex := &fakeExtractor{}
	var cleaned bool
	_, err := executeCommand(t, extractorDeps(ex, &cleaned), "--config", env.cfgPath, "run", "duk008")
	assert.ErrorContains(t, err, "extraction.max_retries")
	assert.Empty(t, ex.report)
}

func TestConfigFileUnreadable(t *testing.T) {
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logger: [unclosed"), 0o644))

	_, err := executeCommand(t, deps{}, "--config", path, "accounts", "list")
	assert.ErrorContains(t, err, "failed to initialize configuration")
}

func TestAccountsCommands(t *testing.T) {
	env := newTestEnv(t, "")
	store := credentials.NewStore(env.storePath)

	out, err := executeCommand(t, deps{}, "--config", env.cfgPath, "accounts", "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "PRIORITY"))
	assert.Contains(t, lines[1], "alice")
	assert.Contains(t, lines[2], "bob")

	out, err = executeCommand(t, deps{}, "--config", env.cfgPath, "accounts", "expire", "alice")
	require.NoError(t, err)
	assert.Equal(t, "Account alice marked as expired.\n", out)

	accounts, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bob", accounts[0].Username)
	assert.Equal(t, credentials.StatusExpired, accounts[1].Status)
	assert.Equal(t, credentials.ExpiredPriority, accounts[1].Priority)

	_, err = executeCommand(t, deps{}, "--config", env.cfgPath, "accounts", "status", "bob", "valid")
	require.NoError(t, err)
	accounts, err = store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, credentials.StatusValid, accounts[0].Status)

	_, err = executeCommand(t, deps{}, "--config", env.cfgPath, "accounts", "status", "bob", "great")
	assert.ErrorIs(t, err, credentials.ErrInvalidStatus)

	_, err = executeCommand(t, deps{}, "--config", env.cfgPath, "accounts", "expire", "carol")
	assert.ErrorIs(t, err, credentials.ErrAccountNotFound)

	out, err = executeCommand(t, deps{}, "--config", env.cfgPath, "accounts", "promote")
	require.NoError(t, err)
	assert.Equal(t, "Account priorities rebalanced.\n", out)
}

type fakeJournal struct {
	username string
	limit    int
}

func (f *fakeJournal) Recent(ctx context.Context, username string, limit int) ([]history.Attempt, error) {
	f.username, f.limit = username, limit
	return []history.Attempt{{
		RunID:       "run-1",
		Username:    username,
		Report:      "duk008",
		Outcome:     "success",
		AttemptedAt: time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC),
	}}, nil
}

func TestAccountsHistory(t *testing.T) {
	env := newTestEnv(t, "")
	j := &fakeJournal{}
	d := deps{journal: func(context.Context, *config.Config, *zap.Logger) (journal, func(), error) {
		return j, func() {}, nil
	}}

	out, err := executeCommand(t, d, "--config", env.cfgPath, "accounts", "history", "alice", "-n", "5")
	require.NoError(t, err)
	assert.Equal(t, "alice", j.username)
	assert.Equal(t, 5, j.limit)
	assert.Contains(t, out, "2024-03-01 08:30:00")
	assert.Contains(t, out, "run-1")

	_, err = executeCommand(t, defaultDeps(), "--config", env.cfgPath, "accounts", "history", "alice")
	assert.ErrorContains(t, err, "history database URL is not configured")
}

func TestQueueAndSchedule(t *testing.T) {
	script := filepath.Join(t.TempDir(), "manage_queue.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nexit 0\n"), 0o755))
	env := newTestEnv(t, "  script: "+script+"\n")

	out, err := executeCommand(t, deps{}, "--config", env.cfgPath, "queue")
	require.NoError(t, err)
	assert.Contains(t, out, "Queue script finished")

	out, err = executeCommand(t, deps{}, "--config", env.cfgPath, "schedule", "--cron", "@hourly", "--next", "2")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 2)

	_, err = executeCommand(t, deps{}, "--config", env.cfgPath, "schedule")
	assert.ErrorContains(t, err, "no schedule configured")

	_, err = executeCommand(t, deps{}, "--config", env.cfgPath, "schedule", "--cron", "every day")
	assert.ErrorContains(t, err, "invalid schedule")
}

func TestNotifyCommand(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	env := newTestEnv(t, fmt.Sprintf("notify:\n  url: %s\n  server_name: etl-01\n", srv.URL))
	out, err := executeCommand(t, deps{}, "--config", env.cfgPath, "notify", "duk008", "FAIL", "disk full")
	require.NoError(t, err)
	assert.Equal(t, "Notification sent.\n", out)
	assert.JSONEq(t, `{"report":"DUK008","status":"FAIL","source_server":"etl-01","extra":"`+"`disk full`"+`"}`, body)

	bare := newTestEnv(t, "")
	_, err = executeCommand(t, deps{}, "--config", bare.cfgPath, "notify", "duk008", "FAIL")
	assert.Error(t, err)
}

func TestLogsCommand(t *testing.T) {
	env := newTestEnv(t, "")
	logFile := filepath.Join(env.dir, "app.log")
	require.NoError(t, os.WriteFile(logFile, []byte("{\"msg\":\"one\"}\n{\"msg\":\"two\"}\n"), 0o644))
	t.Setenv("EXTRACTION_LOGGER_LOG_FILE", logFile)

	out, err := executeCommand(t, deps{}, "--config", env.cfgPath, "logs")
	require.NoError(t, err)
	assert.Equal(t, "{\"msg\":\"one\"}\n{\"msg\":\"two\"}\n", out)
}
