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

package redlock

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "collect:lock:"

var (
	ErrLockHeld    = errors.New("lock is already held")
	ErrNotHolder   = errors.New("lock expired or is held by another owner")
	ErrWaitTimeout = errors.New("timed out waiting for lock")
)

const (
	releaseScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	extendScript  = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('pexpire', KEYS[1], ARGV[2]) else return 0 end"
)

// Locker is a single-key mutual exclusion lock held in redis. Only the owner
// value that acquired it can release or extend it.
type Locker struct {
	client redis.UniversalClient
	key    string
	owner  string
}

func NewLocker(client redis.UniversalClient, name, owner string) *Locker {
	return &Locker{client: client, key: keyPrefix + name, owner: owner}
}

// CompositionLockName names the lock guarding composition for one group slot and action date.
func CompositionLockName(compositionKey string, actionDate time.Time) string {
	return fmt.Sprintf("compose:%s:%s", compositionKey, actionDate.Format("2006-01-02"))
}

func (l *Locker) Key() string {
	return l.key
}

func (l *Locker) Lock(ctx context.Context, ttl time.Duration) error {
	ok, err := l.client.SetNX(ctx, l.key, l.owner, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", l.key, ErrLockHeld)
	}
	return nil
}

func (l *Locker) Unlock(ctx context.Context) error {
	res, err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.owner).Result()
	if err != nil {
		return err
	}
	if res == int64(0) {
		return fmt.Errorf("unlock %s: %w", l.key, ErrNotHolder)
	}
	return nil
}

func (l *Locker) Extend(ctx context.Context, ttl time.Duration) error {
	res, err := l.client.Eval(ctx, extendScript, []string{l.key}, l.owner, fmt.Sprintf("%d", ttl.Milliseconds())).Result()
	if err != nil {
		return err
	}
	if res == int64(0) {
		return fmt.Errorf("extend %s: %w", l.key, ErrNotHolder)
	}
	return nil
}

// WaitLock retries Lock with jitter until it succeeds, wait elapses or ctx is done.
func (l *Locker) WaitLock(ctx context.Context, ttl, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	for {
		err := l.Lock(ctx, ttl)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrLockHeld) {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s: %w", l.key, ErrWaitTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(20+rand.Intn(80)) * time.Millisecond):
		}
	}
}
