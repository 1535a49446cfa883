package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	InvoiceBox InvoiceBoxConfig `yaml:"invoicebox"`
	Ingest     IngestConfig     `yaml:"ingest"`
}

type DatabaseConfig struct {
	// Driver: "postgres" (default) | "sqlite".
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`

	// Path is only used by the sqlite driver.
	Path string `yaml:"path"`
}

type KafkaConfig struct {
	Host                     string `yaml:"host"`
	Port                     int    `yaml:"port"`
	InvoiceIngestedTopicName string `yaml:"invoice_ingested_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type InvoiceBoxConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`
	CacheTTLSeconds    int    `yaml:"cache_ttl_seconds"`
	SwaggerPath        string `yaml:"swagger_path"`
}

// IngestConfig tunes the upload pipeline. Zero values mean "use the default".
type IngestConfig struct {
	BatchSize               int `yaml:"batch_size"`
	RecordTimeoutSeconds    int `yaml:"record_timeout_seconds"`
	SliceDelayMillis        int `yaml:"slice_delay_millis"`
	KeepAliveSeconds        int `yaml:"keep_alive_seconds"`
	ConnectionBudgetSeconds int `yaml:"connection_budget_seconds"`
	MaxRecords              int `yaml:"max_records"`

	UploadRateLimitPerMinute int `yaml:"upload_rate_limit_per_minute"`
}

func (d DatabaseConfig) PostgresDSN() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, sslMode)
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
