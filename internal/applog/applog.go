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

// Package applog builds the application-wide structured logger every other
// package receives as a logrus.FieldLogger, standing in for the JSON
// structlog root logger the original process configured once at import
// time.
package applog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Config controls how the root logger is built.
type Config struct {
	// Level is one of logrus's level names: "trace", "debug", "info",
	// "warn", "error". Defaults to "info" when empty or unparseable.
	Level string

	// JSON selects logrus.JSONFormatter over the human-readable text
	// formatter. The original always emitted JSON; this module defaults to
	// JSON too but keeps text available for local development.
	JSON bool

	// Output is where log lines are written. Defaults to os.Stderr.
	Output io.Writer
}

// New builds a logrus.FieldLogger per cfg, tagged with the running node's
// identity the way the original bound "pid" into every log line via
// merge_in_threadlocal.
func New(cfg Config) logrus.FieldLogger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.JSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.Output != nil {
		logger.SetOutput(cfg.Output)
	} else {
		logger.SetOutput(os.Stderr)
	}

	return logger.WithField("pid", os.Getpid())
}
