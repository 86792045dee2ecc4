// Copyright Project Contour Authors
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

package render

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"

	"github.com/sovereignproject/sovereign/internal/schema"
	"github.com/sovereignproject/sovereign/internal/template"
)

// SubprocessJob is the msgpack envelope sent to cmd/sovereign-renderer on
// its stdin: everything needed to render one response in a process that
// shares nothing with the worker beyond this payload. Module-flavoured
// templates can't cross this boundary (their code is a Go closure, not
// data), so the pool only isolates text-flavoured templates this way.
type SubprocessJob struct {
	ResourceType string                  `msgpack:"resource_type"`
	Source       string                  `msgpack:"source"`
	Request      schema.DiscoveryRequest `msgpack:"request"`
	Context      map[string]any          `msgpack:"context"`
}

// SubprocessResult is what the helper binary writes back to its stdout.
type SubprocessResult struct {
	VersionInfo string `msgpack:"version_info"`
	Resources   []any  `msgpack:"resources"`
	Error       string `msgpack:"error,omitempty"`
}

// Pool bounds concurrent renders and, when RendererPath is set, isolates
// each text-template render in its own cmd/sovereign-renderer subprocess so
// a misbehaving template (infinite loop, huge allocation) can't take down
// the worker process itself.
type Pool struct {
	// RendererPath is the path to the sovereign-renderer helper binary.
	// Empty means "render in-process" -- used in tests and for module
	// templates, which must run in-process regardless.
	RendererPath string
	// Timeout bounds a single render; the default is 60s.
	Timeout time.Duration
	sem     chan struct{}
}

// NewPool returns a Pool with concurrency capped at runtime.NumCPU().
func NewPool(rendererPath string, timeout time.Duration) *Pool {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	n := runtime.NumCPU()
	if n < 1 {
		n = 1
	}
	return &Pool{RendererPath: rendererPath, Timeout: timeout, sem: make(chan struct{}, n)}
}

// RenderAll runs one render per job concurrently (bounded by the pool's
// semaphore) and returns results in the same order as jobs, or the first
// error encountered.
func (p *Pool) RenderAll(ctx context.Context, reg *Registry, jobs []Job) ([]Result, error) {
	results := make([]Result, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			select {
			case p.sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-p.sem }()

			r, err := p.render(gctx, reg, job)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *Pool) render(ctx context.Context, reg *Registry, job Job) (Result, error) {
	set := reg.Select(job.Request.Node.EnvoyVersion())
	tmpl, ok := set[job.Request.ResourceType]
	if !ok {
		return Result{}, fmt.Errorf("render: no template registered for resource type %q", job.Request.ResourceType)
	}

	if p.RendererPath == "" || tmpl.IsModule() {
		return WithTemplate(tmpl, job)
	}
	return p.renderSubprocess(ctx, tmpl, job)
}

func (p *Pool) renderSubprocess(ctx context.Context, tmpl *template.Compiled, job Job) (Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	payload, err := msgpack.Marshal(SubprocessJob{
		ResourceType: job.Request.ResourceType,
		Source:       tmpl.Source(),
		Request:      job.Request,
		Context:      job.Context,
	})
	if err != nil {
		return Result{}, fmt.Errorf("render: encoding subprocess job: %w", err)
	}

	cmd := exec.CommandContext(runCtx, p.RendererPath)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if runCtx.Err() != nil {
			return Result{}, fmt.Errorf("render: subprocess for %q timed out after %s", job.Request.ResourceType, p.Timeout)
		}
		return Result{}, fmt.Errorf("render: subprocess for %q failed: %w: %s", job.Request.ResourceType, err, stderr.String())
	}

	var out SubprocessResult
	if err := msgpack.Unmarshal(stdout.Bytes(), &out); err != nil {
		return Result{}, fmt.Errorf("render: decoding subprocess result: %w", err)
	}
	if out.Error != "" {
		return Result{}, fmt.Errorf("render: subprocess for %q: %s", job.Request.ResourceType, out.Error)
	}
	return Result{VersionInfo: out.VersionInfo, Resources: out.Resources}, nil
}
