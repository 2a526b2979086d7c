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

package collect

import (
	"context"
	"embed"
	"errors"
	"time"

	"github.com/blnkfinance/collect/config"
	"github.com/blnkfinance/collect/database"
	"github.com/blnkfinance/collect/internal/archive"
	"github.com/blnkfinance/collect/internal/gateway"
	"github.com/blnkfinance/collect/internal/notification"
	redis_db "github.com/blnkfinance/collect/internal/redis-db"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

var tracer = otel.Tracer("collect.service")

// Gateway is the part of the gateway client the collector depends on.
type Gateway interface {
	Operation() string
	Submit(ctx context.Context, batchName string, body []byte) (*gateway.SubmitResult, error)
	RequestReport(ctx context.Context, reference string) (string, error)
}

// Archiver keeps a copy of every submitted batch body.
type Archiver interface {
	Store(ctx context.Context, batchName string, actionDate time.Time, body []byte) (string, error)
}

// Collector composes, submits and reconciles debit-order batches.
type Collector struct {
	datasource database.IDataSource
	gateway    Gateway
	queue      *Queue
	redis      redis.UniversalClient
	archive    Archiver
	config     *config.Configuration
	location   *time.Location
	now        func() time.Time
}

type Option func(*Collector)

func WithGateway(g Gateway) Option {
	return func(c *Collector) { c.gateway = g }
}

func WithQueue(q *Queue) Option {
	return func(c *Collector) { c.queue = q }
}

func WithRedis(client redis.UniversalClient) Option {
	return func(c *Collector) { c.redis = client }
}

func WithArchive(a Archiver) Option {
	return func(c *Collector) { c.archive = a }
}

// WithClock replaces the wall clock used for action dates and timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// NewCollector wires a collector from the loaded configuration: redis for the
// composition lock, the asynq queue, the gateway client and, when a bucket is
// configured, the S3 batch archive.
func NewCollector(db database.IDataSource) (*Collector, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	redisClient, err := redis_db.NewRedisClient([]string{cfg.Redis.Dns}, cfg.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}

	gw, err := gateway.NewClient(cfg.Gateway)
	if err != nil {
		return nil, err
	}

	queue, err := NewQueue(cfg)
	if err != nil {
		return nil, err
	}

	opts := []Option{WithRedis(redisClient.Client()), WithGateway(gw), WithQueue(queue)}
	store, err := archive.New(cfg.Archive)
	switch {
	case err == nil:
		opts = append(opts, WithArchive(store))
	case errors.Is(err, archive.ErrNotConfigured):
		logrus.Info("batch archive disabled, no bucket configured")
	default:
		return nil, err
	}

	return New(cfg, db, opts...), nil
}

// New builds a collector from explicit dependencies.
func New(cfg *config.Configuration, db database.IDataSource, opts ...Option) *Collector {
	c := &Collector{
		datasource: db,
		config:     cfg,
		location:   loadLocation(cfg.Collection.Timezone),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	notification.RegisterWebhookSender(func(event string, payload interface{}) error {
		return c.SendWebhook(context.Background(), NewWebhook{Event: event, Payload: payload})
	})
	return c
}

func loadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		logrus.WithError(err).Warnf("unknown timezone %q, using UTC", name)
		return time.UTC
	}
	return loc
}

// today is the collector's current calendar day in the collection timezone.
func (c *Collector) today() time.Time {
	return c.now().In(c.location)
}

func (c *Collector) Config() *config.Configuration {
	return c.config
}

func (c *Collector) Close() error {
	if c.queue != nil {
		return c.queue.Close()
	}
	return nil
}
