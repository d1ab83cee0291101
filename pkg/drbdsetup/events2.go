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

package drbdsetup

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Events2Args are the arguments of the untimestamped event stream of all
// resources.
var Events2Args = []string{"events2", "all"}

const (
	scanBufferSize    = 64 * 1024
	maxScanBufferSize = 1024 * 1024
)

var ErrEvents2Running = errors.New("events2 is already running")

// Sink receives the output of a running events2 command. Calls come from
// the reader goroutines of the command, Stdout calls are ordered.
type Sink interface {
	Stdout(line string)
	Stderr(line string)
	// EOF is called once, after stdout is exhausted and the command exited.
	EOF()
	// Fault reports failures reading the output or an unexpected exit.
	Fault(err error)
}

// Events2 runs `drbdsetup events2 all` and streams its output into a Sink.
type Events2 struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewEvents2() *Events2 {
	return &Events2{}
}

// Start launches the command. It returns once the process is started, output
// is delivered to sink until the command exits or Stop is called.
func (e *Events2) Start(ctx context.Context, sink Sink) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancel != nil {
		return ErrEvents2Running
	}

	defer func() {
		if err != nil {
			err = fmt.Errorf("running command %s %v: %w", Command, Events2Args, err)
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	cmd := ExecCommandContext(runCtx, Command, Events2Args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("getting stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("getting stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("starting command: %w", err)
	}

	e.cancel = cancel
	e.done = make(chan struct{})

	go e.run(runCtx, cmd, stdout, stderr, sink, e.done)

	return nil
}

// Stop terminates the command and waits for its output to be drained. It is
// safe to call Stop on a stopped or never started Events2.
func (e *Events2) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (e *Events2) run(
	ctx context.Context,
	cmd Cmd,
	stdout, stderr io.Reader,
	sink Sink,
	done chan struct{},
) {
	defer close(done)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := scanLines(stderr, sink.Stderr); err != nil && ctx.Err() == nil {
			sink.Fault(fmt.Errorf("reading stderr: %w", err))
		}
	}()

	if err := scanLines(stdout, sink.Stdout); err != nil && ctx.Err() == nil {
		sink.Fault(fmt.Errorf("reading stdout: %w", err))
	}

	// all reads must complete before Wait
	wg.Wait()

	if err := cmd.Wait(); err != nil && ctx.Err() == nil {
		sink.Fault(fmt.Errorf(
			"command %s %v exited with code %d: %w",
			Command, Events2Args, errToExitCode(err), err,
		))
	}

	sink.EOF()
}

func scanLines(r io.Reader, fn func(line string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, scanBufferSize), maxScanBufferSize)
	for scanner.Scan() {
		fn(scanner.Text())
	}
	return scanner.Err()
}
