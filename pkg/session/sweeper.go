// Copyright 2026 the Chess-GPT authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package session

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper periodically evicts expired sessions from a Store.
type Sweeper struct {
	store    Store
	schedule string
	logger   *zap.Logger
	cron     *cron.Cron
}

// NewSweeper builds a sweeper running on the given cron schedule
// (for example "@every 5m").
func NewSweeper(store Store, schedule string, logger *zap.Logger) *Sweeper {
	if schedule == "" {
		schedule = "@every 5m"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{store: store, schedule: schedule, logger: logger}
}

// Start schedules the sweep. It returns an error if the schedule
// expression cannot be parsed.
func (s *Sweeper) Start() error {
	c := cron.New()
	_, err := c.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		n, err := s.store.SweepExpired(ctx, time.Now())
		if err != nil {
			s.logger.Warn("session sweep failed", zap.Error(err))
			return
		}
		if n > 0 {
			s.logger.Info("evicted expired sessions", zap.Int("count", n))
		}
	})
	if err != nil {
		return err
	}
	s.cron = c
	c.Start()
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}
