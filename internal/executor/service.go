// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package executor manages the lifetime of an out-of-process execution
// service. The service stays up while a run's streamed outputs are still
// being consumed: teardown routes through the recording's stream gate so
// a lazily-read response is never cut off by releasing the process under
// it.
package executor

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/tombee/flowtrace/internal/log"
	"github.com/tombee/flowtrace/pkg/errors"
	"github.com/tombee/flowtrace/pkg/trace/stream"
)

// Service is a handle to a spawned execution service process.
type Service struct {
	gate   *stream.Gate
	logger *slog.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	destroyed bool
}

// Config describes the command to spawn and the gate guarding teardown.
type Config struct {
	// Binary is the service executable path.
	Binary string

	// Args are passed to the service process.
	Args []string

	// Env is the child environment; nil inherits the parent's.
	Env []string

	// Gate guards teardown. Required: a service with no gate would be
	// releasable while its output is still streaming.
	Gate *stream.Gate

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Start spawns the service process in its own process group so Kill can
// signal the whole group.
func Start(cfg Config) (*Service, error) {
	if cfg.Binary == "" {
		return nil, &errors.ConfigError{Key: "executor.binary", Reason: "service binary is required"}
	}
	if cfg.Gate == nil {
		return nil, &errors.ConfigError{Key: "executor.gate", Reason: "teardown gate is required"}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.Command(cfg.Binary, cfg.Args...)
	if cfg.Env != nil {
		cmd.Env = cfg.Env
	} else {
		cmd.Env = os.Environ()
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "starting execution service %s", cfg.Binary)
	}
	logger.Info("execution service started", "binary", cfg.Binary, "pid", cmd.Process.Pid)

	return &Service{gate: cfg.Gate, logger: logger, cmd: cmd}, nil
}

// PID returns the service process id, or 0 after teardown.
func (s *Service) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed || s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Destroy releases the service once every stream from the run has been
// exhausted, waiting at most as long as ctx allows. If streams are still
// open when ctx expires it returns a retryable StreamsOpenError and the
// service keeps running; the caller may retry or fall back to Kill.
func (s *Service) Destroy(ctx context.Context) error {
	return s.gate.ReleaseWhenReady(ctx, "execution service", s.terminate)
}

// TryDestroy releases the service only if no stream is open right now.
func (s *Service) TryDestroy() error {
	return s.gate.TryRelease("execution service", s.terminate)
}

// Kill is the forced path: it cancels every open stream, freezing their
// trace buffers at the consumed prefix, then terminates the process.
func (s *Service) Kill() error {
	s.gate.CancelAll()
	return s.terminate()
}

// terminate stops the process group and reaps the child. Idempotent.
func (s *Service) terminate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return nil
	}
	s.destroyed = true

	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	pid := s.cmd.Process.Pid

	// Negative pid signals the whole process group.
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		s.logger.Warn("signaling execution service failed", "pid", pid, log.Error(err))
		if err := s.cmd.Process.Kill(); err != nil {
			return errors.Wrap(err, "killing execution service")
		}
	}
	if err := s.cmd.Wait(); err != nil {
		// Exit status from the signal is expected; only log it.
		s.logger.Debug("execution service exited", "pid", pid, log.Error(err))
	}
	s.logger.Info("execution service stopped", "pid", pid)
	return nil
}
