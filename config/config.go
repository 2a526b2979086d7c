/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT            = "5001"
	DEFAULT_MONITORING_PORT = "5004"
	DEFAULT_LEAD_DAYS       = 3
	DEFAULT_MAX_RETRIES     = 2
	DEFAULT_BATCH_TIMING    = "TwoDay"
	DEFAULT_GATEWAY_TIMEOUT = 60
	DEFAULT_GATEWAY_TRIES   = 3

	OperationVariantUpload  = "upload"
	OperationVariantCompact = "compact"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"COLLECT_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"COLLECT_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"COLLECT_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"COLLECT_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"COLLECT_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"COLLECT_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"COLLECT_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"COLLECT_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"COLLECT_REDIS_SKIP_TLS_VERIFY"`
}

// GatewayConfig holds everything needed to talk to the debit-order gateway.
// Credentials are only ever supplied here, never in code.
type GatewayConfig struct {
	EndpointURL       string `json:"endpoint_url" envconfig:"COLLECT_GATEWAY_ENDPOINT_URL"`
	ServiceKey        string `json:"service_key" envconfig:"COLLECT_GATEWAY_SERVICE_KEY"`
	SoftwareVendorKey string `json:"software_vendor_key" envconfig:"COLLECT_GATEWAY_SOFTWARE_VENDOR_KEY"`

	// Variant selects which upload operation the integration expects: "upload" or "compact".
	Variant          string `json:"variant" envconfig:"COLLECT_GATEWAY_VARIANT"`
	UploadOperation  string `json:"upload_operation"`
	CompactOperation string `json:"compact_operation"`
	ReportOperation  string `json:"report_operation"`
	Namespace        string `json:"namespace"`
	ActionPrefix     string `json:"action_prefix"`

	TimeoutSec  int `json:"timeout_sec" envconfig:"COLLECT_GATEWAY_TIMEOUT_SEC"`
	MaxAttempts int `json:"max_attempts" envconfig:"COLLECT_GATEWAY_MAX_ATTEMPTS"`

	// ResultCodes maps operation name -> result code -> outcome.
	ResultCodes     map[string]map[string]string `json:"result_codes" ignored:"true"`
	ResultCodesFile string                       `json:"result_codes_file" envconfig:"COLLECT_GATEWAY_RESULT_CODES_FILE"`
}

type CollectionConfig struct {
	LeadDays            int               `json:"lead_days" envconfig:"COLLECT_LEAD_DAYS"`
	MaxRetries          *int              `json:"max_retries" envconfig:"COLLECT_MAX_RETRIES"`
	BatchTiming         string            `json:"batch_timing" envconfig:"COLLECT_BATCH_TIMING"`
	Timezone            string            `json:"timezone" envconfig:"COLLECT_TIMEZONE"`
	NonRetryableReasons []string          `json:"non_retryable_reasons"`
	StatusCodes         map[string]string `json:"status_codes" ignored:"true"`
	ReasonCodes         map[string]string `json:"reason_codes" ignored:"true"`
	ComposeSchedule     string            `json:"compose_schedule" envconfig:"COLLECT_COMPOSE_SCHEDULE"`
	PollSchedule        string            `json:"poll_schedule" envconfig:"COLLECT_POLL_SCHEDULE"`
	AutoSubmit          bool              `json:"auto_submit" envconfig:"COLLECT_AUTO_SUBMIT"`
}

type QueueConfig struct {
	StatusUpdateQueue string `json:"status_update_queue" envconfig:"COLLECT_QUEUE_STATUS_UPDATE"`
	PollQueue         string `json:"poll_queue" envconfig:"COLLECT_QUEUE_POLL"`
	ComposeQueue      string `json:"compose_queue" envconfig:"COLLECT_QUEUE_COMPOSE"`
	WebhookQueue      string `json:"webhook_queue" envconfig:"COLLECT_QUEUE_WEBHOOK"`
	MonitoringPort    string `json:"monitoring_port" envconfig:"COLLECT_QUEUE_MONITORING_PORT"`
	MaxRetryAttempts  int    `json:"max_retry_attempts" envconfig:"COLLECT_QUEUE_MAX_RETRY_ATTEMPTS"`
}

type ArchiveConfig struct {
	S3BucketName       string `json:"s3_bucket_name" envconfig:"COLLECT_ARCHIVE_S3_BUCKET"`
	S3Region           string `json:"s3_region" envconfig:"COLLECT_ARCHIVE_S3_REGION"`
	S3Endpoint         string `json:"s3_endpoint" envconfig:"COLLECT_ARCHIVE_S3_ENDPOINT"`
	AwsAccessKeyId     string `json:"aws_access_key_id" envconfig:"COLLECT_ARCHIVE_AWS_ACCESS_KEY_ID"`
	AwsSecretAccessKey string `json:"aws_secret_access_key" envconfig:"COLLECT_ARCHIVE_AWS_SECRET_ACCESS_KEY"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"COLLECT_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"COLLECT_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"COLLECT_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"COLLECT_SLACK_WEBHOOK_URL"`
}

type WebhookConfig struct {
	Url     string            `json:"url" envconfig:"COLLECT_WEBHOOK_URL"`
	Headers map[string]string `json:"headers"`
}

type Notification struct {
	Slack   SlackWebhook  `json:"slack"`
	Webhook WebhookConfig `json:"webhook"`
}

type Configuration struct {
	ProjectName     string           `json:"project_name" envconfig:"COLLECT_PROJECT_NAME"`
	EnableTelemetry bool             `json:"enable_telemetry" envconfig:"COLLECT_ENABLE_TELEMETRY"`
	Server          ServerConfig     `json:"server"`
	DataSource      DataSourceConfig `json:"data_source"`
	Redis           RedisConfig      `json:"redis"`
	Gateway         GatewayConfig    `json:"gateway"`
	Collection      CollectionConfig `json:"collection"`
	Queue           QueueConfig      `json:"queue"`
	Archive         ArchiveConfig    `json:"archive"`
	Notification    Notification     `json:"notification"`
	RateLimit       RateLimitConfig  `json:"rate_limit"`
}

// DefaultResultCodes is the result-code table used when the configuration does not
// provide one. The plain upload operation answers with a file token on success, so only
// its failure codes are listed; the compact operation reports success as "0". The report
// operation answers with the report text itself.
func DefaultResultCodes() map[string]map[string]string {
	return map[string]map[string]string{
		"BatchFileUpload": {
			"100": "authentication_failure",
			"102": "malformed_batch",
			"200": "general_exception",
		},
		"BatchFileUploadCompact": {
			"0":   "accepted",
			"100": "authentication_failure",
			"102": "malformed_batch",
			"200": "general_exception",
		},
		"RequestFileUploadReport": {
			"100": "authentication_failure",
			"104": "not_ready",
			"200": "general_exception",
		},
	}
}

// DefaultStatusCodes maps report status codes onto transaction outcomes.
func DefaultStatusCodes() map[string]string {
	return map[string]string{
		"S":          "successful",
		"SUCCESSFUL": "successful",
		"U":          "failed",
		"UNPAID":     "failed",
		"F":          "failed",
		"FAILED":     "failed",
	}
}

// DefaultReasonCodes maps gateway unpaid reason codes onto normalised failure reasons.
func DefaultReasonCodes() map[string]string {
	return map[string]string{
		"2":  "insufficient_funds",
		"4":  "payment_stopped",
		"6":  "account_closed",
		"8":  "invalid_account",
		"12": "no_authority",
		"18": "debits_not_allowed",
		"22": "insufficient_funds",
	}
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: could not load .env file: %v", err)
	}

	// override config from environment variables
	err = envconfig.Process("collect", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return nil
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called collect.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		cnf.ProjectName = "Collect Server"
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Gateway.EndpointURL = strings.TrimSpace(cnf.Gateway.EndpointURL)

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	if cnf.Gateway.EndpointURL == "" {
		return errors.New("gateway endpoint url is required")
	}

	if cnf.Gateway.ServiceKey == "" {
		return errors.New("gateway service key is required")
	}

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	cnf.addGatewayDefaults()
	if cnf.Gateway.Variant != OperationVariantUpload && cnf.Gateway.Variant != OperationVariantCompact {
		return errors.New("gateway variant must be either upload or compact")
	}
	if cnf.Gateway.Variant == OperationVariantCompact && cnf.Gateway.SoftwareVendorKey == "" {
		return errors.New("software vendor key is required for the compact upload operation")
	}

	cnf.addCollectionDefaults()
	if cnf.Collection.LeadDays < 1 {
		return errors.New("collection lead days must be at least 1")
	}
	if cnf.Collection.RetryBudget() < 0 {
		return errors.New("collection max retries cannot be negative")
	}

	cnf.addQueueDefaults()

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

func (cnf *Configuration) addGatewayDefaults() {
	g := &cnf.Gateway
	if g.Variant == "" {
		g.Variant = OperationVariantUpload
	}
	if g.UploadOperation == "" {
		g.UploadOperation = "BatchFileUpload"
	}
	if g.CompactOperation == "" {
		g.CompactOperation = "BatchFileUploadCompact"
	}
	if g.ReportOperation == "" {
		g.ReportOperation = "RequestFileUploadReport"
	}
	if g.Namespace == "" {
		g.Namespace = "http://tempuri.org/"
	}
	if g.ActionPrefix == "" {
		g.ActionPrefix = "http://tempuri.org/INIWS_NIF/"
	}
	if g.TimeoutSec <= 0 {
		g.TimeoutSec = DEFAULT_GATEWAY_TIMEOUT
	}
	if g.MaxAttempts <= 0 {
		g.MaxAttempts = DEFAULT_GATEWAY_TRIES
	}
	if len(g.ResultCodes) == 0 {
		g.ResultCodes = DefaultResultCodes()
	}
}

// RetryBudget is the number of retries a failed collection gets before escalation.
// An explicit zero escalates on the first failure; unset falls back to the default.
func (c CollectionConfig) RetryBudget() int {
	if c.MaxRetries == nil {
		return DEFAULT_MAX_RETRIES
	}
	return *c.MaxRetries
}

func (cnf *Configuration) addCollectionDefaults() {
	c := &cnf.Collection
	if c.LeadDays == 0 {
		c.LeadDays = DEFAULT_LEAD_DAYS
	}
	if c.MaxRetries == nil {
		budget := DEFAULT_MAX_RETRIES
		c.MaxRetries = &budget
	}
	if c.BatchTiming == "" {
		c.BatchTiming = DEFAULT_BATCH_TIMING
	}
	if c.Timezone == "" {
		c.Timezone = "Africa/Johannesburg"
	}
	if len(c.NonRetryableReasons) == 0 {
		c.NonRetryableReasons = []string{"account_closed", "invalid_account", "no_authority", "debits_not_allowed", "payment_stopped"}
	}
	if len(c.ReasonCodes) == 0 {
		c.ReasonCodes = DefaultReasonCodes()
	}
	if len(c.StatusCodes) == 0 {
		c.StatusCodes = DefaultStatusCodes()
	}
	if c.ComposeSchedule == "" {
		c.ComposeSchedule = "0 6 * * 1-5"
	}
	if c.PollSchedule == "" {
		c.PollSchedule = "@every 1h"
	}
}

func (cnf *Configuration) addQueueDefaults() {
	q := &cnf.Queue
	if q.StatusUpdateQueue == "" {
		q.StatusUpdateQueue = "status_update"
	}
	if q.PollQueue == "" {
		q.PollQueue = "poll_report"
	}
	if q.ComposeQueue == "" {
		q.ComposeQueue = "compose_batch"
	}
	if q.WebhookQueue == "" {
		q.WebhookQueue = "webhook"
	}
	if q.MonitoringPort == "" {
		q.MonitoringPort = DEFAULT_MONITORING_PORT
	}
	if q.MaxRetryAttempts == 0 {
		q.MaxRetryAttempts = 5
	}
}

// UploadOperationName returns the name of the upload operation selected by Variant.
func (g GatewayConfig) UploadOperationName() string {
	if g.Variant == OperationVariantCompact {
		return g.CompactOperation
	}
	return g.UploadOperation
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
