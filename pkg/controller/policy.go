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
package controller

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Hbos123/chessgpt/pkg/types"
)

// ConfidencePolicy maps engine certainty signals to the maximum
// confidence an answer may declare. The numbers are product-tuned, not
// structural, so they live in a config file rather than in code.
type ConfidencePolicy struct {
	// HighMinDepth is the minimum search depth for high confidence.
	HighMinDepth int `yaml:"high_min_depth"`
	// HighMaxSpreadCP is the widest PV spread allowed for high
	// confidence when the best move must stand out.
	HighMaxSpreadCP int `yaml:"high_max_spread_cp"`
	// MediumMinDepth is the minimum search depth for medium confidence.
	MediumMinDepth int `yaml:"medium_min_depth"`
}

// DefaultConfidencePolicy is compiled in and used until a policy file
// loads.
func DefaultConfidencePolicy() ConfidencePolicy {
	return ConfidencePolicy{
		HighMinDepth:    18,
		HighMaxSpreadCP: 300,
		MediumMinDepth:  10,
	}
}

// Ceiling returns the maximum confidence the certainty signals permit.
// Exact results (forced mate, tablebase) always permit high. No facts
// at all caps to low.
func (p ConfidencePolicy) Ceiling(facts *types.FactsPacket) types.Confidence {
	if facts == nil {
		return types.ConfidenceLow
	}
	c := facts.Certainty
	if c.Exact {
		return types.ConfidenceHigh
	}
	if c.Depth >= p.HighMinDepth && c.PVSpreadCP <= p.HighMaxSpreadCP {
		return types.ConfidenceHigh
	}
	if c.Depth >= p.MediumMinDepth {
		return types.ConfidenceMedium
	}
	return types.ConfidenceLow
}

// PolicyStore holds the active confidence policy and reloads it when
// the backing YAML file changes.
type PolicyStore struct {
	mu     sync.RWMutex
	policy ConfidencePolicy
	path   string
	logger *zap.Logger

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
	stopMu  sync.Mutex
	stopped bool
}

// NewPolicyStore creates a store with the compiled-in defaults. If path
// is non-empty the file is loaded immediately; a missing or invalid
// file logs a warning and keeps the defaults.
func NewPolicyStore(path string, logger *zap.Logger) *PolicyStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &PolicyStore{
		policy: DefaultConfidencePolicy(),
		path:   path,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	if path != "" {
		if err := s.load(); err != nil {
			logger.Warn("failed to load confidence policy, using defaults",
				zap.String("path", path), zap.Error(err))
		}
	}
	return s
}

// Current returns the active policy.
func (s *PolicyStore) Current() ConfidencePolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

func (s *PolicyStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read policy file: %w", err)
	}
	policy := DefaultConfidencePolicy()
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return fmt.Errorf("failed to parse policy file: %w", err)
	}
	if policy.HighMinDepth <= 0 || policy.MediumMinDepth <= 0 || policy.HighMaxSpreadCP < 0 {
		return fmt.Errorf("policy values must be positive")
	}

	s.mu.Lock()
	s.policy = policy
	s.mu.Unlock()

	s.logger.Info("confidence policy loaded",
		zap.String("path", s.path),
		zap.Int("high_min_depth", policy.HighMinDepth),
		zap.Int("high_max_spread_cp", policy.HighMaxSpreadCP),
		zap.Int("medium_min_depth", policy.MediumMinDepth))
	return nil
}

// Watch begins reloading the policy file on change. No-op when the
// store has no backing file.
func (s *PolicyStore) Watch() error {
	if s.path == "" {
		close(s.doneCh)
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	// Watch the directory: editors replace files on save, which drops
	// a watch registered on the file itself.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch policy directory: %w", err)
	}
	s.watcher = watcher

	go s.watchLoop()
	return nil
}

func (s *PolicyStore) watchLoop() {
	defer close(s.doneCh)

	var debounce *time.Timer
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue
			}
			// Debounce editor save bursts.
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, func() {
				if err := s.load(); err != nil {
					s.logger.Warn("policy reload failed, keeping previous policy",
						zap.Error(err))
				}
			})

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("policy watcher error", zap.Error(err))

		case <-s.stopCh:
			return
		}
	}
}

// Stop halts the watcher.
func (s *PolicyStore) Stop() {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stopCh)
	if s.watcher != nil {
		_ = s.watcher.Close()
		<-s.doneCh
	}
}
