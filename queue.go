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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/blnkfinance/collect/config"
	"github.com/blnkfinance/collect/database"
	"github.com/blnkfinance/collect/internal/apierror"
	redis_db "github.com/blnkfinance/collect/internal/redis-db"
	"github.com/blnkfinance/collect/model"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// statusUpdateRetention keeps finished status-update tasks around so a repeated
// delivery within the window collides on its task id instead of running again.
const statusUpdateRetention = 24 * time.Hour

// Queue wraps the asynq client used to hand work to the workers.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	conf      config.QueueConfig
}

func NewQueue(conf *config.Configuration) (*Queue, error) {
	opt, err := redis_db.AsynqOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("queue redis options: %w", err)
	}
	return NewQueueWithOpt(opt, conf.Queue), nil
}

func NewQueueWithOpt(opt asynq.RedisConnOpt, conf config.QueueConfig) *Queue {
	return &Queue{
		Client:    asynq.NewClient(opt),
		Inspector: asynq.NewInspector(opt),
		conf:      conf,
	}
}

func (q *Queue) Close() error {
	return errors.Join(q.Client.Close(), q.Inspector.Close())
}

func (q *Queue) enqueue(ctx context.Context, task *asynq.Task, label string) error {
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			logrus.WithField("task", label).Info("task already queued, skipping duplicate")
			return nil
		}
		return err
	}
	logrus.WithFields(logrus.Fields{"task": label, "queue": info.Queue, "id": info.ID}).Debug("task enqueued")
	return nil
}

// EnqueueStatusUpdate queues one settlement outcome for ApplyStatusUpdate. The task id is
// the update's dedupe key, so the same outcome delivered twice is queued once. A task
// left archived after spending its retries is replaced, so a later delivery of the
// same outcome gets a fresh set of attempts.
func (q *Queue) EnqueueStatusUpdate(ctx context.Context, update model.StatusUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return err
	}
	id := update.DedupeKey()
	task := asynq.NewTask(q.conf.StatusUpdateQueue, payload,
		asynq.TaskID(id),
		asynq.Queue(q.conf.StatusUpdateQueue),
		asynq.MaxRetry(q.conf.MaxRetryAttempts),
		asynq.Retention(statusUpdateRetention),
	)

	_, err = q.Client.EnqueueContext(ctx, task)
	if !errors.Is(err, asynq.ErrTaskIDConflict) {
		if err == nil {
			logrus.WithFields(logrus.Fields{"task": id, "queue": q.conf.StatusUpdateQueue}).Debug("task enqueued")
		}
		return err
	}

	info, err := q.Inspector.GetTaskInfo(q.conf.StatusUpdateQueue, id)
	switch {
	case errors.Is(err, asynq.ErrTaskNotFound):
		// Retention ran out between the conflict and the lookup.
		return q.enqueue(ctx, task, id)
	case err != nil:
		return fmt.Errorf("inspect status update %s: %w", id, err)
	case info.State != asynq.TaskStateArchived:
		logrus.WithFields(logrus.Fields{"task": id, "state": info.State.String()}).Info("task already queued, skipping duplicate")
		return nil
	}

	if err := q.Inspector.DeleteTask(q.conf.StatusUpdateQueue, id); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
		return fmt.Errorf("remove archived status update %s: %w", id, err)
	}
	logrus.WithFields(logrus.Fields{"task": id, "last_error": info.LastErr}).Warn("requeueing archived status update")
	return q.enqueue(ctx, task, id)
}

func (q *Queue) EnqueueCompose(ctx context.Context, req ComposeRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	task := asynq.NewTask(q.conf.ComposeQueue, payload,
		asynq.Queue(q.conf.ComposeQueue),
		asynq.MaxRetry(q.conf.MaxRetryAttempts),
		asynq.Unique(time.Hour),
	)
	return q.enqueue(ctx, task, "compose:"+model.CompositionKey(req.GroupID))
}

func (q *Queue) EnqueuePoll(ctx context.Context) error {
	task := asynq.NewTask(q.conf.PollQueue, nil,
		asynq.Queue(q.conf.PollQueue),
		asynq.MaxRetry(1),
		asynq.Unique(10*time.Minute),
	)
	return q.enqueue(ctx, task, "poll")
}

func (q *Queue) EnqueueWebhook(ctx context.Context, hook NewWebhook) error {
	payload, err := json.Marshal(hook)
	if err != nil {
		return err
	}
	task := asynq.NewTask(q.conf.WebhookQueue, payload,
		asynq.Queue(q.conf.WebhookQueue),
		asynq.MaxRetry(q.conf.MaxRetryAttempts),
	)
	return q.enqueue(ctx, task, hook.Event)
}

// permanent stops asynq retrying errors that another attempt cannot fix.
func permanent(err error) error {
	if err == nil {
		return nil
	}
	if apierror.IsCode(err, apierror.ErrInvalidInput) || apierror.IsCode(err, apierror.ErrBadRequest) || apierror.IsCode(err, apierror.ErrNotFound) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

func (c *Collector) ProcessStatusUpdate(ctx context.Context, task *asynq.Task) error {
	var update model.StatusUpdate
	if err := json.Unmarshal(task.Payload(), &update); err != nil {
		return fmt.Errorf("decode status update: %v: %w", err, asynq.SkipRetry)
	}
	_, err := c.ApplyStatusUpdate(ctx, update)
	return permanent(err)
}

// ProcessComposeBatch runs a queued composition. A slot that is already taken or has
// nobody due is a normal outcome for a scheduled run, not a failure.
func (c *Collector) ProcessComposeBatch(ctx context.Context, task *asynq.Task) error {
	var req ComposeRequest
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &req); err != nil {
			return fmt.Errorf("decode compose request: %v: %w", err, asynq.SkipRetry)
		}
	}
	comp, err := c.ComposeBatch(ctx, req)
	switch {
	case errors.Is(err, database.ErrDuplicateRun), errors.Is(err, ErrEmptyBatch), errors.Is(err, ErrCompositionInProgress):
		logrus.WithField("group", model.CompositionKey(req.GroupID)).Info(err.Error())
		return nil
	case errors.Is(err, ErrGroupNotCollectable):
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	case err != nil && comp != nil:
		// The draft exists; submission problems are recorded on the run itself.
		logrus.WithError(err).WithField("run_id", comp.Run.RunID).Warn("composed run was not accepted")
		return nil
	}
	return err
}

func (c *Collector) ProcessPollReports(ctx context.Context, _ *asynq.Task) error {
	n, err := c.PollAwaitingRuns(ctx)
	logrus.WithField("delivered", n).Info("status reports polled")
	return err
}
