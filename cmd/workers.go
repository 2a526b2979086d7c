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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	collect "github.com/blnkfinance/collect"
	"github.com/blnkfinance/collect/config"
	redis_db "github.com/blnkfinance/collect/internal/redis-db"
	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"
)

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

func initializeQueues(cfg *config.Configuration) map[string]int {
	return map[string]int{
		cfg.Queue.StatusUpdateQueue: 6,
		cfg.Queue.ComposeQueue:      2,
		cfg.Queue.PollQueue:         1,
		cfg.Queue.WebhookQueue:      3,
	}
}

func initializeWorkerServer(conf *config.Configuration, opt asynq.RedisConnOpt) *asynq.Server {
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: 4,
		Queues:      initializeQueues(conf),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logrus.WithFields(logrus.Fields{
				"task":    task.Type(),
				"attempt": retried,
				"max":     maxRetry,
				"error":   err,
			}).Warn("task failed")
		}),
	})
}

func initializeTaskHandlers(c *collectInstance, mux *asynq.ServeMux) {
	q := c.cnf.Queue
	mux.HandleFunc(q.StatusUpdateQueue, c.collector.ProcessStatusUpdate)
	mux.HandleFunc(q.ComposeQueue, c.collector.ProcessComposeBatch)
	mux.HandleFunc(q.PollQueue, c.collector.ProcessPollReports)
	mux.HandleFunc(q.WebhookQueue, collect.ProcessWebhook)
}

// initializeScheduler registers the periodic composition and report polling tasks.
// An empty schedule disables the task.
func initializeScheduler(conf *config.Configuration, opt asynq.RedisConnOpt) (*asynq.Scheduler, error) {
	loc := time.UTC
	if conf.Collection.Timezone != "" {
		l, err := time.LoadLocation(conf.Collection.Timezone)
		if err != nil {
			return nil, fmt.Errorf("collection timezone: %w", err)
		}
		loc = l
	}
	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{Location: loc})

	if spec := conf.Collection.ComposeSchedule; spec != "" {
		payload, err := json.Marshal(collect.ComposeRequest{AutoSubmit: conf.Collection.AutoSubmit})
		if err != nil {
			return nil, err
		}
		task := asynq.NewTask(conf.Queue.ComposeQueue, payload, asynq.Queue(conf.Queue.ComposeQueue), asynq.Unique(time.Hour))
		if _, err := scheduler.Register(spec, task); err != nil {
			return nil, fmt.Errorf("compose schedule %q: %w", spec, err)
		}
	}
	if spec := conf.Collection.PollSchedule; spec != "" {
		task := asynq.NewTask(conf.Queue.PollQueue, nil, asynq.Queue(conf.Queue.PollQueue), asynq.MaxRetry(1), asynq.Unique(10*time.Minute))
		if _, err := scheduler.Register(spec, task); err != nil {
			return nil, fmt.Errorf("poll schedule %q: %w", spec, err)
		}
	}
	return scheduler, nil
}

// workerCommands starts the queue workers, the scheduler and the asynqmon dashboard.
func workerCommands(c *collectInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start collection workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			conf := c.cnf

			shutdown, err := initializeTracing(ctx, conf)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(ctx); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()
			defer c.collector.Close()

			opt, err := redis_db.AsynqOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
			if err != nil {
				log.Fatal(err)
			}

			srv := initializeWorkerServer(conf, opt)
			mux := asynq.NewServeMux()
			initializeTaskHandlers(c, mux)

			scheduler, err := initializeScheduler(conf, opt)
			if err != nil {
				log.Fatal(err)
			}
			if err := scheduler.Start(); err != nil {
				log.Fatalf("could not start scheduler: %v", err)
			}
			defer scheduler.Shutdown()

			h := asynqmon.New(asynqmon.Options{
				RootPath:     "/monitoring",
				RedisConnOpt: opt,
			})
			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					log.Fatalf("could not start asynqmon server: %v", err)
				}
			}()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
