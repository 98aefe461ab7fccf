// Package processtest provides a scripted process.Runner for tests.
package processtest

import (
	"context"
	"strings"
	"sync"

	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/process"
)

// Response is what the fake returns for one invocation.
type Response struct {
	Result process.Result
	Err    error
}

// Exit returns a response for a clean exit with the given status and output.
func Exit(code int, stdout, stderr string) Response {
	return Response{Result: process.Result{
		Termination: process.Exited,
		ExitCode:    code,
		Stdout:      []byte(stdout),
		Stderr:      []byte(stderr),
	}}
}

// Signal returns a response for a process killed by sig.
func Signal(sig int) Response {
	return Response{Result: process.Result{
		Termination: process.Signaled,
		ExitCode:    -1,
		Signal:      sig,
	}}
}

// TimedOut returns a response for a process killed at its timeout.
func TimedOut() Response {
	return Response{Result: process.Result{Termination: process.TimedOut}}
}

// Runner is a process.Runner that answers from a function of the request
// and records every call.
type Runner struct {
	Respond func(req process.Request) Response

	mu    sync.Mutex
	calls []process.Request
}

// New creates a fake runner.
func New(respond func(req process.Request) Response) *Runner {
	return &Runner{Respond: respond}
}

// ByInput answers by matching the input argument against keys of m; the
// key is matched as a suffix of any argument. Unmatched requests get def.
func ByInput(m map[string]Response, def Response) *Runner {
	return New(func(req process.Request) Response {
		for _, a := range req.Args {
			for k, r := range m {
				if strings.HasSuffix(a, k) {
					return r
				}
			}
		}
		return def
	})
}

// Execute implements process.Runner.
func (f *Runner) Execute(ctx context.Context, req process.Request) (*process.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp := f.Respond(req)
	if resp.Err != nil {
		return nil, resp.Err
	}
	res := resp.Result
	return &res, nil
}

// Calls returns the number of Execute calls.
func (f *Runner) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// Requests returns a copy of every request seen.
func (f *Runner) Requests() []process.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]process.Request(nil), f.calls...)
}
