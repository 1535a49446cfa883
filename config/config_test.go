package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  driver: "postgres"
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  invoice_ingested_topic_name: "invoice.ingested"
redis:
  host: "localhost"
  port: 6379
invoicebox:
  http_addr: ":8080"
  kafka_consumer_group: "invoice-api"
  cache_ttl_seconds: 600
ingest:
  batch_size: 12
  record_timeout_seconds: 30
  keep_alive_seconds: 15
  connection_budget_seconds: 110
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "invoice.ingested", cfg.Kafka.InvoiceIngestedTopicName)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, ":8080", cfg.InvoiceBox.HTTPAddr)
	require.Equal(t, 12, cfg.Ingest.BatchSize)
	require.Equal(t, 110, cfg.Ingest.ConnectionBudgetSeconds)
	require.Zero(t, cfg.Ingest.SliceDelayMillis)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestDatabaseConfig_PostgresDSN(t *testing.T) {
	d := DatabaseConfig{Host: "h", Port: 5432, Username: "u", Password: "p", DBName: "n"}
	require.Equal(t, "postgres://u:p@h:5432/n?sslmode=disable", d.PostgresDSN())

	d.SSLMode = "require"
	require.Equal(t, "postgres://u:p@h:5432/n?sslmode=require", d.PostgresDSN())
}

func TestLoadConfig_Example(t *testing.T) {
	cfg, err := LoadConfig("config.example.yaml")
	require.NoError(t, err)
	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "invoice.ingested", cfg.Kafka.InvoiceIngestedTopicName)
	require.Equal(t, 110, cfg.Ingest.ConnectionBudgetSeconds)
	require.Equal(t, "api/invoicebox.swagger.json", cfg.InvoiceBox.SwaggerPath)
}
