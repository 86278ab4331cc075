package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/skystream/config"
	"github.com/c360/skystream/firehose"
	"github.com/c360/skystream/ops"
	"github.com/c360/skystream/pkg/buffer"
	"github.com/c360/skystream/publisher"
	"github.com/c360/skystream/testutil"
)

func TestHandler_PublishesClassifiedOps(t *testing.T) {
	broker := testutil.NewMockBroker()
	pub, err := publisher.NewPublisher(broker, publisher.Config{})
	require.NoError(t, err)
	errs := &errorLog{}
	handle := newHandler(ops.NewClassifier(nil, nil), pub, errs)

	car := testutil.NewCARBuilder(t)
	c := car.AddRecord(testutil.Post("hello", "2024-01-01T00:00:00Z", "en"))

	err = handle(context.Background(), &firehose.Commit{
		Seq:  7,
		Repo: "did:plc:abc",
		Ops: []firehose.RepoOp{
			{Action: firehose.ActionCreate, Path: "app.bsky.feed.post/xyz", CID: &c},
			{Action: firehose.ActionUpdate, Path: "app.bsky.feed.post/old", CID: &c},
			{Action: firehose.ActionDelete, Path: "app.bsky.feed.like/l1"},
		},
		Blocks: car.Bytes(),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"post.create", "like.delete"}, broker.Keys())

	// nothing classifiable, nothing published
	err = handle(context.Background(), &firehose.Commit{
		Seq:  8,
		Repo: "did:plc:abc",
		Ops:  []firehose.RepoOp{{Action: firehose.ActionDelete, Path: "app.bsky.actor.profile/self"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, broker.Count())
	assert.Empty(t, errs.components)
}

func TestHandler_RecordsPublishErrors(t *testing.T) {
	pub, err := publisher.NewPublisher(testutil.NewMockBroker(), publisher.Config{})
	require.NoError(t, err)
	require.NoError(t, pub.Close(context.Background()))

	errs := &errorLog{}
	handle := newHandler(ops.NewClassifier(nil, nil), pub, errs)
	err = handle(context.Background(), &firehose.Commit{
		Seq:  9,
		Repo: "did:plc:abc",
		Ops:  []firehose.RepoOp{{Action: firehose.ActionDelete, Path: "app.bsky.feed.like/l1"}},
	})
	require.Error(t, err)
	assert.Equal(t, []string{"handler"}, errs.components)
}

func TestSpoolOverflow(t *testing.T) {
	assert.Equal(t, buffer.DropOldest, spoolOverflow(config.SpoolDropOldest))
	assert.Equal(t, buffer.DropNewest, spoolOverflow(config.SpoolDropNewest))
	assert.Equal(t, buffer.DropOldest, spoolOverflow(""))
}

type errorLog struct {
	components []string
}

func (l *errorLog) RecordError(component string, _ error) {
	l.components = append(l.components, component)
}

func TestLoadConfig_FlagsOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skystream.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"broker": {"username": "u", "password": "p"},
		"log": {"level": "warn", "format": "json"}
	}`), 0o600))

	cfg, err := loadConfig(&CLIConfig{
		ConfigPath: path,
		EnvFile:    filepath.Join(dir, "missing.env"),
		LogLevel:   "debug",
		LogFormat:  "text",
	})
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "u", cfg.Broker.Username)
}

func TestValidateFlags(t *testing.T) {
	base := CLIConfig{ShutdownTimeout: 1}
	require.NoError(t, validateFlags(&base))

	bad := base
	bad.LogLevel = "verbose"
	assert.Error(t, validateFlags(&bad))

	bad = base
	bad.ConfigPath = filepath.Join(t.TempDir(), "absent.json")
	assert.Error(t, validateFlags(&bad))

	bad = base
	bad.ShutdownTimeout = 0
	assert.Error(t, validateFlags(&bad))

	version := CLIConfig{ShowVersion: true}
	assert.NoError(t, validateFlags(&version))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "json")
	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, appName, line["service"])
	assert.Equal(t, Version, line["version"])
	assert.Equal(t, "value", line["key"])
}
