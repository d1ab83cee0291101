/*
Copyright 2026 Flant JSC

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

package fake

import (
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/deckhouse/sds-replicated-volume/images/drbd-events-tracker/pkg/drbdsetup"
)

// TB is the part of testing.TB used by Exec, GinkgoT() satisfies it too.
type TB interface {
	Helper()
	Errorf(format string, args ...any)
	Cleanup(func())
}

// Exec replaces drbdsetup.ExecCommandContext with scripted commands, consumed
// in order.
type Exec struct {
	mu   sync.Mutex
	cmds []*ExpectedCmd
	next int
}

func (b *Exec) ExpectCommands(cmds ...*ExpectedCmd) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cmds = append(b.cmds, cmds...)
}

// Executed returns the number of commands started so far.
func (b *Exec) Executed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.next
}

func (b *Exec) Setup(t TB) {
	t.Helper()

	tmp := drbdsetup.ExecCommandContext

	drbdsetup.ExecCommandContext = func(ctx context.Context, name string, args ...string) drbdsetup.Cmd {
		b.mu.Lock()
		defer b.mu.Unlock()

		if len(b.cmds) <= b.next {
			t.Errorf("expected %d command executions, got more", len(b.cmds))
			return &ExpectedCmd{StartErr: ErrUnexpectedCommand}
		}
		cmd := b.cmds[b.next]

		if !cmd.Matches(name, args...) {
			t.Errorf("ExecCommandContext was called with unexpected arguments (call index %d): %s %v", b.next, name, args)
			return &ExpectedCmd{StartErr: ErrUnexpectedCommand}
		}

		b.next++
		cmd.bind(ctx)
		return cmd
	}

	t.Cleanup(func() {
		// actual cleanup
		drbdsetup.ExecCommandContext = tmp

		// assert all commands executed
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.next != len(b.cmds) {
			t.Errorf("expected %d command executions, got %d", len(b.cmds), b.next)
		}
	})
}

var ErrUnexpectedCommand = errors.New("unexpected command")

// ExpectedCmd is a scripted streaming command. Its output readers are closed
// when the context of the command is canceled, like a killed process.
type ExpectedCmd struct {
	Name string
	Args []string

	StartErr  error
	ResultErr error

	stdoutReader io.ReadCloser
	stderrReader io.ReadCloser

	ctx context.Context
}

var _ drbdsetup.Cmd = &ExpectedCmd{}

// Events2 returns an expected `drbdsetup events2 all` invocation with the
// given stdout.
func Events2(stdout ...string) *ExpectedCmd {
	cmd := &ExpectedCmd{Name: drbdsetup.Command, Args: drbdsetup.Events2Args}
	cmd.SetStdoutReader(io.NopCloser(strings.NewReader(joinLines(stdout))))
	return cmd
}

func (c *ExpectedCmd) Matches(name string, args ...string) bool {
	return c.Name == name && slices.Equal(c.Args, args)
}

func (c *ExpectedCmd) bind(ctx context.Context) { c.ctx = ctx }

func (c *ExpectedCmd) StdoutPipe() (io.ReadCloser, error) {
	if c.stdoutReader == nil {
		c.stdoutReader = io.NopCloser(strings.NewReader(""))
	}
	return c.stdoutReader, nil
}

func (c *ExpectedCmd) StderrPipe() (io.ReadCloser, error) {
	if c.stderrReader == nil {
		c.stderrReader = io.NopCloser(strings.NewReader(""))
	}
	return c.stderrReader, nil
}

func (c *ExpectedCmd) Start() error {
	if c.StartErr != nil {
		return c.StartErr
	}
	if c.ctx != nil {
		go func() {
			<-c.ctx.Done()
			if c.stdoutReader != nil {
				_ = c.stdoutReader.Close()
			}
			if c.stderrReader != nil {
				_ = c.stderrReader.Close()
			}
		}()
	}
	return nil
}

func (c *ExpectedCmd) Wait() error {
	return c.ResultErr
}

// SetStdoutReader allows tests to provide a custom reader for streaming commands.
func (c *ExpectedCmd) SetStdoutReader(r io.ReadCloser) {
	c.stdoutReader = r
}

func (c *ExpectedCmd) SetStderrReader(r io.ReadCloser) {
	c.stderrReader = r
}

type ExitErr struct{ Code int }

func (e ExitErr) Error() string { return "ExitErr" }
func (e ExitErr) ExitCode() int { return e.Code }

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
