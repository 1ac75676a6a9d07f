package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nucleus/ucl-loader/pkg/schema"
	"github.com/nucleus/ucl-loader/pkg/syncstate"
)

func TestLoadLoaderConfigDefaults(t *testing.T) {
	for _, k := range []string{"STORAGE_API_URL", "JOB_POLL_INTERVAL", "WAIT_CONCURRENCY", "MINIO_ENDPOINT", "LOADER_TASK_QUEUE"} {
		t.Setenv(k, "")
	}
	cfg := LoadLoaderConfig()

	assert.Equal(t, "http://localhost:8700", cfg.StorageAPIURL)
	assert.Equal(t, time.Second, cfg.JobPollInterval)
	assert.Equal(t, 1, cfg.WaitConcurrency)
	assert.Equal(t, "ucl-loader", cfg.TaskQueue)
	assert.False(t, cfg.UseMinio())
}

func TestLoadLoaderConfigFromEnv(t *testing.T) {
	t.Setenv("STORAGE_API_URL", "https://connection.example.com")
	t.Setenv("JOB_POLL_INTERVAL", "250ms")
	t.Setenv("STORAGE_API_TIMEOUT", "90")
	t.Setenv("WAIT_CONCURRENCY", "4")
	t.Setenv("STORAGE_API_RATE_LIMIT", "2.5")
	t.Setenv("MINIO_ENDPOINT", "http://minio:9000")
	t.Setenv("MINIO_USE_SSL", "true")
	cfg := LoadLoaderConfig()

	assert.Equal(t, "https://connection.example.com", cfg.StorageAPIURL)
	assert.Equal(t, 250*time.Millisecond, cfg.JobPollInterval)
	assert.Equal(t, 90*time.Second, cfg.StorageAPITimeout)
	assert.Equal(t, 4, cfg.WaitConcurrency)
	assert.Equal(t, 2.5, cfg.StorageAPIRateLimit)
	assert.True(t, cfg.UseMinio())
	assert.True(t, cfg.MinioUseSSL)
}

func TestInvalidEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("WAIT_CONCURRENCY", "many")
	t.Setenv("JOB_POLL_INTERVAL", "soon")
	cfg := LoadLoaderConfig()
	assert.Equal(t, 1, cfg.WaitConcurrency)
	assert.Equal(t, time.Second, cfg.JobPollInterval)
}

const sampleRun = `
componentId: keboola.ex-db
configurationId: "123"
backend: snowflake
enforceBaseTypes: false
nativeBackends: [snowflake, synapse]
dataDir: /data
inputs:
  tables:
    - source: in.c-crm.customers
      changedSince: adaptive
  files:
    - tags: [{name: invoices}, {name: draft, match: exclude}]
      lastImportId: "991"
outputs:
  - source: out/tables/orders.csv
    destination: out.c-main.orders
    primaryKey: [id]
    incremental: true
    columns: [id, amount, status]
    deleteWhere: {column: status, operator: eq, values: [closed]}
    tableMetadata: {description: Orders, owner: sales}
    columnMetadata:
      id: {"KBC.datatype.basetype": INTEGER}
      amount: {"KBC.datatype.basetype": NUMERIC, "KBC.datatype.length": "12,2"}
  - workspaceObject: analytics.daily
    destination: out.c-main.daily
`

func TestParseRunFile(t *testing.T) {
	rf, err := ParseRunFile([]byte(sampleRun))
	require.NoError(t, err)

	assert.Equal(t, "keboola.ex-db", rf.ComponentID)
	assert.Equal(t, "123", rf.ConfigurationID)
	require.Len(t, rf.Outputs, 2)
	require.Len(t, rf.Inputs.Files, 1)
	assert.Equal(t, []syncstate.Tag{{Name: "invoices"}, {Name: "draft", Match: syncstate.MatchExclude}}, rf.Inputs.Files[0].Tags)
	assert.Equal(t, ChangedSinceAdaptive, rf.Inputs.Tables[0].ChangedSince)

	out := rf.Outputs[0]
	assert.Equal(t, []schema.Metadata{
		{Key: "description", Value: "Orders"},
		{Key: "owner", Value: "sales"},
	}, out.TableMetadataEntries())

	cols := out.ColumnMetadataEntries()
	require.Len(t, cols, 2)
	assert.Equal(t, "amount", cols[0].Column)
	assert.Equal(t, []schema.Metadata{
		{Key: "KBC.datatype.basetype", Value: "NUMERIC"},
		{Key: "KBC.datatype.length", Value: "12,2"},
	}, cols[0].Metadata)

	dw := out.LoaderDeleteWhere()
	require.NotNil(t, dw)
	assert.Equal(t, []string{"closed"}, dw.Values)
	assert.Nil(t, rf.Outputs[1].LoaderDeleteWhere())

	backends := rf.Backends()
	assert.True(t, backends["synapse"].NativeTypes)
	assert.False(t, backends["bigquery"].NativeTypes)
}

func TestParseRunFileRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing component", "outputs: []"},
		{"bad destination", "componentId: c\noutputs: [{source: a.csv, destination: orders}]"},
		{"duplicate destination", "componentId: c\noutputs: [{source: a.csv, destination: out.c-a.t}, {source: b.csv, destination: out.c-a.t}]"},
		{"no source", "componentId: c\noutputs: [{destination: out.c-a.t}]"},
		{"two sources", "componentId: c\noutputs: [{source: a.csv, workspaceObject: x, destination: out.c-a.t}]"},
		{"unknown key", "componentId: c\nbogus: 1"},
		{"bad tag match", "componentId: c\ninputs: {files: [{tags: [{name: a, match: maybe}]}]}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRunFile([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadRunFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRun), 0o644))

	rf, err := LoadRunFile(path)
	require.NoError(t, err)
	assert.Len(t, rf.Outputs, 2)

	_, err = LoadRunFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
