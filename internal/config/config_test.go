package config_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nybots/iptv-hub/internal/config"
)

func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "config.json")
	require.NoError(t, os.WriteFile(tmpFile, []byte(content), 0600), "failed to write temp config file")
	return tmpFile
}

func TestLoad(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		content        string
		missingFile    bool
		fallbackSource string

		wantSource string
		wantErr    bool
	}{
		"Valid config loads": {
			content:    `{"sourceUrl": "http://upstream.example/list.m3u"}`,
			wantSource: "http://upstream.example/list.m3u",
		},
		"File source overrides fallback": {
			content:        `{"sourceUrl": "http://upstream.example/list.m3u"}`,
			fallbackSource: "http://fallback.example/list.m3u",
			wantSource:     "http://upstream.example/list.m3u",
		},
		"Empty JSON keeps fallback": {
			content:        "{}",
			fallbackSource: "http://fallback.example/list.m3u",
			wantSource:     "http://fallback.example/list.m3u",
		},
		"Missing file keeps fallback": {
			missingFile:    true,
			fallbackSource: "http://fallback.example/list.m3u",
			wantSource:     "http://fallback.example/list.m3u",
		},

		// Error cases
		"Invalid JSON fails": {
			content: `{"sourceUrl": "http://upstream.example/list.m3u"`, // Missing closing brace
			wantErr: true,
		},
		"Empty file fails": {
			wantErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			configPath := filepath.Join(t.TempDir(), "nonexistent.json")
			if !tc.missingFile {
				configPath = createTempConfigFile(t, tc.content)
			}

			cm := config.New(configPath, tc.fallbackSource)
			err := cm.Load()

			if tc.wantErr {
				require.Error(t, err, "expected error loading config")
				return
			}
			require.NoError(t, err, "expected no error loading config")
			assert.Equal(t, tc.wantSource, cm.Source(), "unexpected source URL")
		})
	}
}

func TestSetSourcePersists(t *testing.T) {
	t.Parallel()

	tmpFile := createTempConfigFile(t, `{"sourceUrl": "http://old.example/list.m3u"}`)

	cm := config.New(tmpFile, "")
	require.NoError(t, cm.Load(), "Setup: initial load failed")

	require.NoError(t, cm.SetSource("http://new.example/list.m3u"), "expected SetSource to succeed")
	assert.Equal(t, "http://new.example/list.m3u", cm.Source(), "expected in-memory source to change")

	data, err := os.ReadFile(tmpFile)
	require.NoError(t, err, "failed to read persisted config")
	var persisted struct {
		SourceURL string `json:"sourceUrl"`
	}
	require.NoError(t, json.Unmarshal(data, &persisted), "persisted config is not valid JSON")
	assert.Equal(t, "http://new.example/list.m3u", persisted.SourceURL, "expected persisted source to change")
}

func TestSetSourceWithoutFile(t *testing.T) {
	t.Parallel()

	cm := config.New("", "http://fallback.example/list.m3u")
	require.NoError(t, cm.SetSource("http://new.example/list.m3u"), "expected SetSource without a file to succeed")
	assert.Equal(t, "http://new.example/list.m3u", cm.Source(), "expected in-memory source to change")
}

func TestWatchConfigReloadsOnChange(t *testing.T) {
	t.Parallel()
	initial := `{"sourceUrl": "http://alpha.example/list.m3u"}`
	updated := `{"sourceUrl": "http://beta.example/list.m3u"}`
	tmpFile := createTempConfigFile(t, initial)

	cm := config.New(tmpFile, "")
	require.NoError(t, cm.Load(), "Setup: initial load failed")

	watchEvent, watchErr, err := cm.Watch(t.Context())
	require.NoError(t, err, "Setup: failed to start watch")
	require.Equal(t, "http://alpha.example/list.m3u", cm.Source(), "Setup: unexpected initial source")

	require.NoError(t, os.WriteFile(tmpFile, []byte(updated), 0600), "Setup: failed to write updated config")

	time.Sleep(time.Second) // let watcher reload

	require.Equal(t, "http://beta.example/list.m3u", cm.Source(), "expected source to be reloaded")

	select {
	case err := <-watchErr:
		require.NoError(t, err, "expected no error watching config file")
	case <-watchEvent:
	case <-time.After(200 * time.Millisecond):
		require.Fail(t, "expected change event")
	}
}

func TestWatchIgnoresIrrelevantFiles(t *testing.T) {
	t.Parallel()

	initial := `{"sourceUrl": "http://alpha.example/list.m3u"}`
	tmpFile := createTempConfigFile(t, initial)
	irrelevantFile := filepath.Join(filepath.Dir(tmpFile), "irrelevant.txt")

	cm := config.New(tmpFile, "")
	watchEvent, watchErr, err := cm.Watch(t.Context())
	require.NoError(t, err, "Setup: failed to start watch")

	require.NoError(t, os.WriteFile(irrelevantFile, []byte("irrelevant content"), 0600), "Setup: failed to write irrelevant file")
	time.Sleep(200 * time.Millisecond) // let watcher reload

	select {
	case err := <-watchErr:
		require.NoError(t, err, "expected no error watching config file")
	case <-watchEvent:
		require.Fail(t, "expected no change event")
	case <-time.After(200 * time.Millisecond):
	}

	assert.Equal(t, "http://alpha.example/list.m3u", cm.Source(), "expected source to be unchanged")
}

func TestWatchKeepsOldConfigIfLoadFails(t *testing.T) {
	t.Parallel()

	initial := `{"sourceUrl": "http://alpha.example/list.m3u"}`
	tmpFile := createTempConfigFile(t, initial)

	cm := config.New(tmpFile, "")
	watchEvent, watchErr, err := cm.Watch(t.Context())
	require.NoError(t, err, "Setup: failed to start watch")

	require.NoError(t, os.WriteFile(tmpFile, []byte("invalid json"), 0600), "Setup: failed to write invalid config")
	time.Sleep(time.Second) // let watcher reload

	select {
	case err := <-watchErr:
		require.NoError(t, err, "expected no error watching config file")
	case <-watchEvent:
		require.Fail(t, "expected no change event")
	case <-time.After(200 * time.Millisecond):
	}

	assert.Equal(t, "http://alpha.example/list.m3u", cm.Source(), "expected source to be unchanged after failed reload")
}

func TestWatchMissingDirectory(t *testing.T) {
	t.Parallel()
	cm := config.New("somewhere/nonexistent.json", "")
	watchEvent, watchErr, err := cm.Watch(t.Context())
	require.Error(t, err, "Expected error starting watch on missing directory")

	select {
	case <-watchErr:
		require.Fail(t, "expected no error in watchErr channel")
	case <-watchEvent:
		require.Fail(t, "expected no event for missing config file")
	case <-time.After(200 * time.Millisecond):
	}
}
