package config

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"visionrag/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(env map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, types.ValidateStruct(cfg))
	assert.Equal(t, 500, cfg.Segment.ChunkSize)
	assert.Equal(t, 50, cfg.Segment.ChunkOverlap)
	assert.Equal(t, 16000, cfg.Retrieval.ContextCharLimit)
	assert.Equal(t, 6, cfg.Retrieval.FigureTopK)
	assert.Equal(t, 40, cfg.Retrieval.StructuralTopK)
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default()
	err := applyEnv(cfg, lookupFrom(map[string]string{
		"SERVER_ADDR":          ":8080",
		"INDEX_BACKEND":        "qdrant",
		"PG_PORT":              "6543",
		"EMBEDDING_DIMENSIONS": "512",
		"EMBEDDING_BASE_DELAY": "250ms",
		"S3_USE_SSL":           "false",
		"LLM_MODEL":            "",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "qdrant", cfg.Index.Backend)
	assert.Equal(t, 6543, cfg.Postgres.Port)
	assert.Equal(t, 512, cfg.Embedding.Dimensions)
	assert.Equal(t, 250*time.Millisecond, cfg.Embedding.BaseDelay)
	assert.False(t, cfg.Blob.UseSSL)
	assert.Equal(t, Default().LLM.Model, cfg.LLM.Model)
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	assert.Error(t, applyEnv(Default(), lookupFrom(map[string]string{"CHUNK_SIZE": "big"})))
	assert.Error(t, applyEnv(Default(), lookupFrom(map[string]string{"PRESIGN_TTL": "forever"})))
	assert.Error(t, applyEnv(Default(), lookupFrom(map[string]string{"S3_USE_SSL": "maybe"})))
}

func TestLoadFileThenValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
index:
  backend: memory
  registry: memory
  dimension: 3
segment:
  chunk_size: 200
  chunk_overlap: 20
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Index.Backend)
	assert.Equal(t, 3, cfg.Index.Dimension)
	assert.Equal(t, 200, cfg.Segment.ChunkSize)
	assert.Equal(t, "vision-rag", cfg.Index.Namespace)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Index.Name, cfg.Index.Name)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("segment:\n  chunk_size: 50\n  chunk_overlap: 50\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestPostgresConnStringEscapesCredentials(t *testing.T) {
	pg := PostgresConfig{
		Host:     "db.local",
		Port:     5432,
		User:     "rag user",
		Password: `p@ss word'"/`,
		DBName:   "visionrag",
		SSLMode:  "disable",
	}

	dsn := pg.ConnString()
	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "postgres", u.Scheme)
	assert.Equal(t, "db.local:5432", u.Host)
	assert.Equal(t, "rag user", u.User.Username())
	pass, ok := u.User.Password()
	require.True(t, ok)
	assert.Equal(t, pg.Password, pass)
	assert.Equal(t, "/visionrag", u.Path)
	assert.Equal(t, "disable", u.Query().Get("sslmode"))
}
