// Package config provides the job configuration for storage-mixpanel.
// A single JobConfig describes one transfer from object storage into
// Mixpanel and is immutable once validated.
//
// The configuration is organized into logical sections:
//   - Storage/Path/Format: where the source objects live and how to decode them
//   - Auth: object storage credentials
//   - Mappings: source column to destination field mappings
//   - Mixpanel: destination project, credentials and record type
//   - Options: batching, concurrency, strict mode and cleanup switches
//   - Tags: static key/value pairs merged into every record
//
// Example usage:
//
//	cfg := config.Default()
//	cfg.Path = "gs://bucket/events/*.ndjson"
//	cfg.Mixpanel.APISecret = os.Getenv("MP_SECRET")
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"strings"

	"github.com/ajitpratap0/storage-mixpanel/pkg/errors"
)

// Record types accepted by the destination.
const (
	TypeEvent = "event"
	TypeUser  = "user"
	TypeGroup = "group"
	TypeTable = "table"
)

// Storage kinds understood by the storage factory.
const (
	StorageGCS   = "gcs"
	StorageS3    = "s3"
	StorageMinio = "minio"
	StorageLocal = "local"
)

// Default batch sizes accepted by the ingestion endpoints.
const (
	DefaultEventBatchSize = 2000
	DefaultGroupBatchSize = 200
	DefaultWorkers        = 10
)

// JobConfig is the configuration of one transfer job.
type JobConfig struct {
	// Storage is the backend kind (gcs, s3, minio, local); inferred from the path scheme when empty
	Storage string `mapstructure:"storage" yaml:"storage" json:"storage"`
	// Path is the source pattern in scheme://bucket/glob form
	Path string `mapstructure:"path" yaml:"path" json:"path"`
	// Format is the declared file format; empty or "auto" infers it from the object name
	Format string `mapstructure:"format" yaml:"format" json:"format"`

	Auth     StorageAuth    `mapstructure:"auth" yaml:"auth" json:"auth"`
	Mappings Mappings       `mapstructure:"mappings" yaml:"mappings" json:"mappings"`
	Mixpanel MixpanelConfig `mapstructure:"mixpanel" yaml:"mixpanel" json:"mixpanel"`
	Options  Options        `mapstructure:"options" yaml:"options" json:"options"`

	// Tags are merged into every transformed record
	Tags map[string]interface{} `mapstructure:"tags" yaml:"tags,omitempty" json:"tags,omitempty"`
}

// StorageAuth holds credentials for the object storage backends.
type StorageAuth struct {
	// GCS service account fields; ADC is used when these are empty
	ProjectID       string `mapstructure:"project_id" yaml:"project_id,omitempty" json:"project_id,omitempty" env:"STORAGE_PROJECT"`
	ClientEmail     string `mapstructure:"client_email" yaml:"client_email,omitempty" json:"client_email,omitempty" env:"STORAGE_CLIENT_EMAIL"`
	PrivateKey      string `mapstructure:"private_key" yaml:"private_key,omitempty" json:"private_key,omitempty" env:"STORAGE_PRIVATE_KEY"`
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file,omitempty" json:"credentials_file,omitempty" env:"GOOGLE_APPLICATION_CREDENTIALS"`

	// S3 / MinIO fields
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty" json:"access_key_id,omitempty" env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty" env:"AWS_SECRET_ACCESS_KEY"`
	SessionToken    string `mapstructure:"session_token" yaml:"session_token,omitempty" json:"session_token,omitempty" env:"AWS_SESSION_TOKEN"`
	Region          string `mapstructure:"region" yaml:"region,omitempty" json:"region,omitempty" env:"AWS_REGION"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint,omitempty" json:"endpoint,omitempty" env:"STORAGE_ENDPOINT"`
	UseSSL          bool   `mapstructure:"use_ssl" yaml:"use_ssl,omitempty" json:"use_ssl,omitempty" env:"STORAGE_USE_SSL"`

	// Root is the base directory for the local backend
	Root string `mapstructure:"root" yaml:"root,omitempty" json:"root,omitempty"`
}

// HasServiceAccount reports whether explicit GCS service account fields are set.
func (a StorageAuth) HasServiceAccount() bool {
	return a.ClientEmail != "" && a.PrivateKey != ""
}

// Mappings maps source columns to destination fields.
type Mappings struct {
	DistinctIDCol string `mapstructure:"distinct_id_col" yaml:"distinct_id_col,omitempty" json:"distinct_id_col,omitempty"`
	EventNameCol  string `mapstructure:"event_name_col" yaml:"event_name_col,omitempty" json:"event_name_col,omitempty"`
	TimeCol       string `mapstructure:"time_col" yaml:"time_col,omitempty" json:"time_col,omitempty"`
	InsertIDCol   string `mapstructure:"insert_id_col" yaml:"insert_id_col,omitempty" json:"insert_id_col,omitempty"`

	// profile fields
	NameCol      string `mapstructure:"name_col" yaml:"name_col,omitempty" json:"name_col,omitempty"`
	EmailCol     string `mapstructure:"email_col" yaml:"email_col,omitempty" json:"email_col,omitempty"`
	AvatarCol    string `mapstructure:"avatar_col" yaml:"avatar_col,omitempty" json:"avatar_col,omitempty"`
	CreatedCol   string `mapstructure:"created_col" yaml:"created_col,omitempty" json:"created_col,omitempty"`
	PhoneCol     string `mapstructure:"phone_col" yaml:"phone_col,omitempty" json:"phone_col,omitempty"`
	LatitudeCol  string `mapstructure:"latitude_col" yaml:"latitude_col,omitempty" json:"latitude_col,omitempty"`
	LongitudeCol string `mapstructure:"longitude_col" yaml:"longitude_col,omitempty" json:"longitude_col,omitempty"`
	IPCol        string `mapstructure:"ip_col" yaml:"ip_col,omitempty" json:"ip_col,omitempty"`

	// ProfileOperation is the engage verb ($set, $set_once, ...)
	ProfileOperation string `mapstructure:"profile_operation" yaml:"profile_operation,omitempty" json:"profile_operation,omitempty"`
	// AdditionalTimeCols are formatted as ISO-like strings
	AdditionalTimeCols []string `mapstructure:"additional_time_cols" yaml:"additional_time_cols,omitempty" json:"additional_time_cols,omitempty"`
}

// MixpanelConfig describes the destination project.
type MixpanelConfig struct {
	ProjectID      string `mapstructure:"project_id" yaml:"project_id,omitempty" json:"project_id,omitempty" env:"MP_PROJECT"`
	Token          string `mapstructure:"token" yaml:"token,omitempty" json:"token,omitempty" env:"MP_TOKEN"`
	APISecret      string `mapstructure:"api_secret" yaml:"api_secret,omitempty" json:"api_secret,omitempty" env:"MP_SECRET"`
	ServiceAccount string `mapstructure:"service_account" yaml:"service_account,omitempty" json:"service_account,omitempty" env:"MP_ACCT"`
	ServiceSecret  string `mapstructure:"service_secret" yaml:"service_secret,omitempty" json:"service_secret,omitempty" env:"MP_PASS"`
	Region         string `mapstructure:"region" yaml:"region" json:"region"`
	Type           string `mapstructure:"type" yaml:"type" json:"type"`
	GroupKey       string `mapstructure:"group_key" yaml:"group_key,omitempty" json:"group_key,omitempty" env:"MP_GROUP_KEY"`
	LookupTableID  string `mapstructure:"lookup_table_id" yaml:"lookup_table_id,omitempty" json:"lookup_table_id,omitempty" env:"MP_TABLE_ID"`
	// Endpoint overrides the regional API host
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty" json:"endpoint,omitempty" env:"MP_ENDPOINT"`
}

// HasServiceAccount reports whether a service account credential pair is set.
func (m MixpanelConfig) HasServiceAccount() bool {
	return m.ServiceAccount != "" && m.ServiceSecret != ""
}

// Options tune the pipeline.
type Options struct {
	// BatchSize overrides the sink batch size when positive
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size,omitempty" json:"batch_size,omitempty"`
	// Workers bounds both concurrent downloads and concurrent sink requests
	Workers int `mapstructure:"workers" yaml:"workers" json:"workers"`
	// BufferSize is the capacity of the record channel; defaults to batch size * workers
	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size,omitempty" json:"buffer_size,omitempty"`
	// Strict asks the import endpoint to validate every event
	Strict bool `mapstructure:"strict" yaml:"strict" json:"strict"`
	// Compress gzips request bodies sent to the destination
	Compress bool `mapstructure:"compress" yaml:"compress" json:"compress"`
	Verbose  bool `mapstructure:"verbose" yaml:"verbose" json:"verbose"`
	// Abridged drops raw responses from the summary
	Abridged bool `mapstructure:"abridged" yaml:"abridged" json:"abridged"`
	// DeleteFiles removes source objects after a successful upload
	DeleteFiles bool `mapstructure:"delete_files" yaml:"delete_files" json:"delete_files"`
	// DryRun transforms records without sending them
	DryRun bool `mapstructure:"dry_run" yaml:"dry_run" json:"dry_run"`
	// LogFile receives the JSON summary; empty disables it
	LogFile string `mapstructure:"log_file" yaml:"log_file,omitempty" json:"log_file,omitempty"`

	// RetryAttempts caps sink retries on 429/5xx
	RetryAttempts int `mapstructure:"retry_attempts" yaml:"retry_attempts,omitempty" json:"retry_attempts,omitempty"`
	// RateLimitPerSec limits sink requests (0 = unlimited)
	RateLimitPerSec int `mapstructure:"rate_limit_per_sec" yaml:"rate_limit_per_sec,omitempty" json:"rate_limit_per_sec,omitempty"`
}

// Default returns a JobConfig with every optional field filled in.
func Default() *JobConfig {
	return &JobConfig{
		Format: "auto",
		Mixpanel: MixpanelConfig{
			Region: "US",
			Type:   TypeEvent,
		},
		Options: Options{
			Workers:       DefaultWorkers,
			Strict:        true,
			Compress:      true,
			Verbose:       true,
			Abridged:      true,
			RetryAttempts: 10,
		},
		Tags: map[string]interface{}{},
	}
}

// ApplyDefaults fills zero-valued optional fields. Booleans are left alone
// since false is a legitimate choice; start from Default to get them.
func (c *JobConfig) ApplyDefaults() {
	if c.Format == "" {
		c.Format = "auto"
	}
	if c.Mixpanel.Region == "" {
		c.Mixpanel.Region = "US"
	}
	if c.Mixpanel.Type == "" {
		c.Mixpanel.Type = TypeEvent
	}
	c.Mixpanel.Type = strings.ToLower(c.Mixpanel.Type)
	c.Mixpanel.Region = strings.ToUpper(c.Mixpanel.Region)
	if c.Options.Workers == 0 {
		c.Options.Workers = DefaultWorkers
	}
	if c.Options.BufferSize == 0 {
		c.Options.BufferSize = c.BatchSize() * c.Options.Workers
	}
	if c.Mappings.ProfileOperation == "" {
		c.Mappings.ProfileOperation = "$set"
	}
	if c.Storage == "" {
		if loc, err := ParsePath(c.Path); err == nil {
			c.Storage = loc.StorageKind(c.Auth)
		}
	}
	if c.Tags == nil {
		c.Tags = map[string]interface{}{}
	}
}

// Validate checks the job before any network I/O happens. Every failure is
// an ErrorTypeInvalidConfig error naming the missing or bad field.
func (c *JobConfig) Validate() error {
	mp := c.Mixpanel

	switch mp.Type {
	case TypeEvent, TypeUser, TypeGroup, TypeTable:
	default:
		return invalid("mixpanel.type", "unknown record type %q", mp.Type)
	}

	if mp.Type == TypeTable && mp.LookupTableID == "" {
		return invalid("mixpanel.lookup_table_id", "missing lookup table id")
	}
	if (mp.Type == TypeUser || mp.Type == TypeGroup) && mp.Token == "" {
		return invalid("mixpanel.token", "missing project token")
	}
	if mp.Type == TypeGroup && mp.GroupKey == "" {
		return invalid("mixpanel.group_key", "missing group key")
	}
	if (mp.Type == TypeEvent || mp.Type == TypeTable) && mp.APISecret == "" && !mp.HasServiceAccount() {
		return invalid("mixpanel.api_secret", "missing API secret or service account")
	}
	if mp.HasServiceAccount() && mp.ProjectID == "" {
		return invalid("mixpanel.project_id", "service account auth requires a project id")
	}
	if mp.Region != "US" && mp.Region != "EU" {
		return invalid("mixpanel.region", "region must be US or EU, got %q", mp.Region)
	}

	if c.Path == "" {
		return invalid("path", "missing path")
	}
	if _, err := ParsePath(c.Path); err != nil {
		return err
	}

	if c.Options.Workers <= 0 {
		return invalid("options.workers", "workers must be positive")
	}
	if c.Options.BatchSize < 0 {
		return invalid("options.batch_size", "batch_size cannot be negative")
	}
	if c.Options.RetryAttempts < 0 {
		return invalid("options.retry_attempts", "retry_attempts cannot be negative")
	}
	if c.Options.RateLimitPerSec < 0 {
		return invalid("options.rate_limit_per_sec", "rate_limit_per_sec cannot be negative")
	}
	return nil
}

// AdjustStrictMode turns strict off for event jobs without an insert id
// column, since the import endpoint rejects strict batches lacking
// $insert_id. It reports whether the setting changed.
func (c *JobConfig) AdjustStrictMode() bool {
	if c.Mixpanel.Type == TypeEvent && c.Options.Strict && c.Mappings.InsertIDCol == "" {
		c.Options.Strict = false
		return true
	}
	return false
}

// BatchSize returns the number of records per sink request.
func (c *JobConfig) BatchSize() int {
	if c.Options.BatchSize > 0 {
		return c.Options.BatchSize
	}
	if c.Mixpanel.Type == TypeGroup {
		return DefaultGroupBatchSize
	}
	return DefaultEventBatchSize
}

// Streamable reports whether records can be sent incrementally. Lookup
// tables are replaced wholesale and must be collected first.
func (c *JobConfig) Streamable() bool {
	return c.Mixpanel.Type != TypeTable
}

// Redacted returns a copy safe to log or persist.
func (c *JobConfig) Redacted() JobConfig {
	out := *c
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}
	out.Auth.PrivateKey = mask(out.Auth.PrivateKey)
	out.Auth.SecretAccessKey = mask(out.Auth.SecretAccessKey)
	out.Auth.SessionToken = mask(out.Auth.SessionToken)
	out.Mixpanel.APISecret = mask(out.Mixpanel.APISecret)
	out.Mixpanel.ServiceSecret = mask(out.Mixpanel.ServiceSecret)
	return out
}

func invalid(field, format string, args ...interface{}) error {
	return errors.Newf(errors.ErrorTypeInvalidConfig, format, args...).WithDetail("field", field)
}
