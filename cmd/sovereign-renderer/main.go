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

// Command sovereign-renderer is the subprocess isolation boundary for text
// template rendering: it reads one msgpack-encoded render.SubprocessJob
// from stdin, renders it, and writes one msgpack-encoded
// render.SubprocessResult to stdout. The worker's render pool spawns one of
// these per render so a runaway template can be killed without touching the
// worker itself.
package main

import (
	"io"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/sovereignproject/sovereign/internal/render"
	"github.com/sovereignproject/sovereign/internal/template"
)

func main() {
	if err := run(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func run() error {
	input, err := io.ReadAll(os.Stdin)
	if err != nil {
		return err
	}

	var job render.SubprocessJob
	if err := msgpack.Unmarshal(input, &job); err != nil {
		return err
	}

	result := renderJob(job)

	out, err := msgpack.Marshal(result)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}

func renderJob(job render.SubprocessJob) render.SubprocessResult {
	compiled, err := template.Recompile(job.ResourceType, job.Source)
	if err != nil {
		return render.SubprocessResult{Error: err.Error()}
	}

	result, err := render.WithTemplate(compiled, render.Job{Request: job.Request, Context: job.Context})
	if err != nil {
		return render.SubprocessResult{Error: err.Error()}
	}
	return render.SubprocessResult{VersionInfo: result.VersionInfo, Resources: result.Resources}
}
