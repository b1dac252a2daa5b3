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

	"github.com/kingrea/apkalias/internal/config"
	"github.com/kingrea/apkalias/internal/eventbridge"
)

const prefix = config.DefaultPrefix

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("APKALIAS_PREFIX", "")
	t.Setenv("APKALIAS_BUILD_DIR", "")
	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func writeArtifact(t *testing.T, dir, name, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestInitCreatesConfig(t *testing.T) {
	project := t.TempDir()
	out, _, err := execute(t, "init", "--project", project)
	require.NoError(t, err)
	assert.Contains(t, out, "Initialized "+filepath.Join(project, ".apkalias"))
	assert.FileExists(t, filepath.Join(project, ".apkalias", "config.yaml"))
	assert.DirExists(t, filepath.Join(project, ".apkalias", "state"))

	_, _, err = execute(t, "init", "--project", project)
	assert.NoError(t, err)
}

func TestFinalizeCopiesArtifactsAndRecordsRun(t *testing.T) {
	project := t.TempDir()
	outDir := filepath.Join(project, "build", "app", "outputs", "flutter-apk")
	writeArtifact(t, outDir, "app-release.apk", "release")

	out, _, err := execute(t, "finalize", "assembleRelease", "-p", project)
	require.NoError(t, err)
	assert.Equal(t, "Copied app-release.apk -> "+prefix+"app-release.apk\n", out)
	data, err := os.ReadFile(filepath.Join(outDir, prefix+"app-release.apk"))
	require.NoError(t, err)
	assert.Equal(t, "release", string(data))

	status, _, err := execute(t, "status", "-p", project)
	require.NoError(t, err)
	assert.Contains(t, status, "stage:    assembleRelease (trigger cli)")
	assert.Contains(t, status, "result:   1 copied, 0 failed")

	history, _, err := execute(t, "history", "-p", project, "-n", "5")
	require.NoError(t, err)
	assert.Contains(t, history, "[assembleRelease] Copied app-release.apk -> "+prefix+"app-release.apk")

	again, _, err := execute(t, "finalize", "ASSEMBLERELEASE", "-p", project)
	require.NoError(t, err)
	assert.Empty(t, again, "aliases must not be copied again")
}

func TestFinalizeUnboundStageDoesNothing(t *testing.T) {
	project := t.TempDir()
	outDir := filepath.Join(project, "build", "outputs", "apk")
	writeArtifact(t, outDir, "app-debug.apk", "debug")

	out, _, err := execute(t, "finalize", "compileKotlin", "-p", project)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NoFileExists(t, filepath.Join(outDir, prefix+"app-debug.apk"))
}

func TestFinalizeNeverFailsTheBuild(t *testing.T) {
	t.Run("broken config", func(t *testing.T) {
		project := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(project, ".apkalias"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(project, ".apkalias", "config.yaml"), []byte("artifacts: ["), 0o644))

		_, errOut, err := execute(t, "finalize", "assembleDebug", "-p", project)
		require.NoError(t, err)
		assert.Contains(t, errOut, "finalize assembleDebug skipped")
	})

	t.Run("blocked destination", func(t *testing.T) {
		project := t.TempDir()
		outDir := filepath.Join(project, "build", "app", "outputs", "apk")
		writeArtifact(t, outDir, "app-debug.apk", "debug")
		require.NoError(t, os.MkdirAll(filepath.Join(outDir, prefix+"app-debug.apk", "occupied"), 0o755))

		out, errOut, err := execute(t, "finalize", "assembleDebug", "-p", project)
		require.NoError(t, err)
		assert.Contains(t, out, "Failed to copy "+filepath.Join(outDir, "app-debug.apk"))
		assert.Contains(t, errOut, "copy-apk-with-custom-name after assembleDebug: 0 copied, 1 failed: app-debug.apk")
	})
}

func TestRunHonoursSetOverrides(t *testing.T) {
	project := t.TempDir()
	outDir := filepath.Join(project, "build", "app", "outputs", "flutter-apk")
	writeArtifact(t, outDir, "app-debug.apk", "debug")

	out, _, err := execute(t, "run", "-p", project, "--set", "prefix=QA-")
	require.NoError(t, err)
	assert.Equal(t, "Copied app-debug.apk -> QA-app-debug.apk\n", out)
	assert.FileExists(t, filepath.Join(outDir, "QA-app-debug.apk"))
}

func TestRunRejectsEmptyPrefixOverride(t *testing.T) {
	project := t.TempDir()
	outDir := filepath.Join(project, "build", "app", "outputs", "flutter-apk")
	writeArtifact(t, outDir, "app-debug.apk", "debug")

	_, _, err := execute(t, "run", "-p", project, "--set", "prefix=")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prefix must not be empty")
	assert.NoFileExists(t, filepath.Join(outDir, prefix+"app-debug.apk"))
}

func TestRunConfigFileOverrides(t *testing.T) {
	project := t.TempDir()
	custom := filepath.Join(project, "dist")
	writeArtifact(t, custom, "app-release.apk", "release")
	overrides := filepath.Join(project, "overrides.yaml")
	require.NoError(t, os.WriteFile(overrides, []byte("build_dir: "+project+"\ncandidate_dirs:\n  - dist\n"), 0o644))

	_, _, err := execute(t, "run", "-p", project, "--config-file", overrides)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(custom, prefix+"app-release.apk"))
}

func TestRunRejectsUnknownOverride(t *testing.T) {
	_, _, err := execute(t, "run", "-p", t.TempDir(), "--set", "colour=blue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown override "colour"`)
}

func TestRunWithNothingToCopy(t *testing.T) {
	out, errOut, err := execute(t, "run", "-p", t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Contains(t, errOut, "No matching artifacts found.")
}

func TestStatusAndHistoryBeforeFirstRun(t *testing.T) {
	project := t.TempDir()
	status, _, err := execute(t, "status", "-p", project)
	require.NoError(t, err)
	assert.Equal(t, "No runs recorded yet.\n", status)
	history, _, err := execute(t, "history", "-p", project)
	require.NoError(t, err)
	assert.Equal(t, "No history yet.\n", history)
}

func TestNotifyPostsStageFinished(t *testing.T) {
	router := eventbridge.NewRouter()
	srv := eventbridge.NewServer(eventbridge.Settings{
		Enabled:      true,
		Host:         "127.0.0.1",
		Port:         0,
		MaxBodyBytes: 4096,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		IdleTimeout:  time.Second,
	}, eventbridge.WithProcessor(router))
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	out, _, err := execute(t, "notify", "assembleRelease", "-p", t.TempDir(), "--url", srv.BaseURL())
	require.NoError(t, err)
	assert.Contains(t, out, "assembleRelease finished")

	sub := router.Subscribe("assembleRelease")
	defer sub.Close()
	select {
	case evt := <-sub.Events:
		assert.Equal(t, eventbridge.TypeStageFinished, evt.Type)
		assert.Equal(t, "success", evt.Outcome)
	case <-time.After(time.Second):
		t.Fatal("bridge did not receive the event")
	}
}

func TestKeyValueFlag(t *testing.T) {
	kv := keyValueFlag{}
	require.NoError(t, kv.Set("prefix=My App-"))
	require.NoError(t, kv.Set("extension=apk"))
	assert.Error(t, kv.Set("novalue"))
	assert.Error(t, kv.Set("=x"))
	assert.Equal(t, "extension=apk, prefix=My App-", kv.String())

	merged, err := buildOverrides("", kv)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"prefix": "My App-", "extension": "apk"}, merged)

	empty, err := buildOverrides("", nil)
	require.NoError(t, err)
	assert.Nil(t, empty)

	_, err = buildOverrides(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestOverridesFileAcceptsConfigFragment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fragment.yaml")
	require.NoError(t, os.WriteFile(path, []byte("artifacts:\n  prefix: \"Beta-\"\n  extension: apk\nstages: [assembleRelease]\n"), 0o644))

	sets := keyValueFlag{}
	require.NoError(t, sets.Set("extension=aab"))
	merged, err := buildOverrides(path, sets)
	require.NoError(t, err)
	assert.Equal(t, "Beta-", merged["prefix"])
	assert.Equal(t, "aab", merged["extension"], "--set must win over the file")
	assert.Equal(t, []any{"assembleRelease"}, merged["stages"])

	require.NoError(t, os.WriteFile(path, []byte("artifacts: nope\n"), 0o644))
	_, err = buildOverrides(path, nil)
	assert.Error(t, err)
}
