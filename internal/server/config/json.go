package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/pixelriver/internal/flagx"
	"github.com/dmitrijs2005/pixelriver/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// It uses timex.Duration for interval fields, which allows parsing both
// string values such as "1s" and integer nanoseconds.
//
// Only keys present in the file override the current value, so a file may
// carry a subset of the settings.
type JsonConfig struct {
	HTTPAddr           *string         `json:"http_addr"`
	DatabaseDSN        *string         `json:"database_dsn"`
	RedisURL           *string         `json:"redis_url"`
	KafkaBrokers       []string        `json:"kafka_brokers"`
	QueueDisabled      *bool           `json:"queue_disabled"`
	UploadTopic        *string         `json:"upload_topic"`
	S3RootUser         *string         `json:"s3_root_user"`
	S3RootPassword     *string         `json:"s3_root_password"`
	S3Bucket           *string         `json:"s3_bucket"`
	S3Region           *string         `json:"s3_region"`
	S3BaseEndpoint     *string         `json:"s3_base_endpoint"`
	S3UploadPrefix     *string         `json:"s3_upload_prefix"`
	PublicBaseURL      *string         `json:"public_base_url"`
	UploadDir          *string         `json:"upload_dir"`
	MaxUploadSizeBytes *int64          `json:"max_upload_size_bytes"`
	MaxUploadFiles     *int            `json:"max_upload_files"`
	AllowedExtension   *string         `json:"allowed_extension"`
	RateLimitMax       *int64          `json:"rate_limit_max"`
	RateLimitWindow    *timex.Duration `json:"rate_limit_window"`
	NotFoundTTL        *timex.Duration `json:"not_found_ttl"`
	CallTimeout        *timex.Duration `json:"call_timeout"`
	OutboxPollInterval *timex.Duration `json:"outbox_poll_interval"`
	OutboxBatchSize    *int            `json:"outbox_batch_size"`
	OutboxGracePeriod  *timex.Duration `json:"outbox_grace_period"`
	OutboxPublishRPS   *float64        `json:"outbox_publish_rps"`
	OutboxLease        *timex.Duration `json:"outbox_lease"`
	OutboxMaxAttempts  *int            `json:"outbox_max_attempts"`
	LogLevel           *string         `json:"log_level"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path comes from the -c or -config flag; without
// it nothing is loaded.
func parseJson(config *Config) error {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return nil
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", jsonConfigFile, err)
	}

	c.apply(config)
	return nil
}

func (c *JsonConfig) apply(config *Config) {
	set(&config.HTTPAddr, c.HTTPAddr)
	set(&config.DatabaseDSN, c.DatabaseDSN)
	set(&config.RedisURL, c.RedisURL)
	if c.KafkaBrokers != nil {
		config.KafkaBrokers = c.KafkaBrokers
	}
	set(&config.QueueDisabled, c.QueueDisabled)
	set(&config.UploadTopic, c.UploadTopic)
	set(&config.S3RootUser, c.S3RootUser)
	set(&config.S3RootPassword, c.S3RootPassword)
	set(&config.S3Bucket, c.S3Bucket)
	set(&config.S3Region, c.S3Region)
	set(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	set(&config.S3UploadPrefix, c.S3UploadPrefix)
	set(&config.PublicBaseURL, c.PublicBaseURL)
	set(&config.UploadDir, c.UploadDir)
	set(&config.MaxUploadSizeBytes, c.MaxUploadSizeBytes)
	set(&config.MaxUploadFiles, c.MaxUploadFiles)
	set(&config.AllowedExtension, c.AllowedExtension)
	set(&config.RateLimitMax, c.RateLimitMax)
	setDuration(&config.RateLimitWindow, c.RateLimitWindow)
	setDuration(&config.NotFoundTTL, c.NotFoundTTL)
	setDuration(&config.CallTimeout, c.CallTimeout)
	setDuration(&config.OutboxPollInterval, c.OutboxPollInterval)
	set(&config.OutboxBatchSize, c.OutboxBatchSize)
	setDuration(&config.OutboxGracePeriod, c.OutboxGracePeriod)
	set(&config.OutboxPublishRPS, c.OutboxPublishRPS)
	setDuration(&config.OutboxLease, c.OutboxLease)
	set(&config.OutboxMaxAttempts, c.OutboxMaxAttempts)
	set(&config.LogLevel, c.LogLevel)
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
