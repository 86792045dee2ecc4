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

// Command sovereignctl is the control plane's entry point: serve runs the
// full discovery/render/cache pipeline, validate-config checks a
// configuration file without starting anything, and version prints build
// info. Structured the way cmd/contour's kingpin-based main does: each
// subcommand is registered by a small registerXxx function returning its
// *kingpin.CmdClause plus whatever context it needs at dispatch time.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/sirupsen/logrus"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/sovereignproject/sovereign/internal/build"
	"github.com/sovereignproject/sovereign/internal/config"
)

func main() {
	log := logrus.StandardLogger()

	// Respect cgroup CPU limits so runtime.NumCPU()-sized pools (render
	// workers, in particular) don't over-subscribe a throttled container.
	if _, err := maxprocs.Set(maxprocs.Logger(log.Printf)); err != nil {
		log.WithError(err).Warn("failed to set GOMAXPROCS from cgroup limits")
	}

	app := kingpin.New("sovereignctl", "xDS configuration discovery control plane.")
	app.HelpFlag.Short('h')

	serve, serveCtx := registerServe(app)
	validate, validateCtx := registerValidateConfig(app)
	version := app.Command("version", "Print build information.")

	switch kingpin.MustParse(app.Parse(os.Args[1:])) {
	case serve.FullCommand():
		if err := doServe(serveCtx, log); err != nil {
			log.WithError(err).Error("sovereignctl serve exited with an error")
			os.Exit(1)
		}
	case validate.FullCommand():
		if err := doValidateConfig(validateCtx); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("configuration is valid")
	case version.FullCommand():
		fmt.Print(build.String())
	}
}

func doValidateConfig(ctx *validateContext) error {
	cfg, err := config.ParseFile(ctx.configPath)
	if err != nil {
		return err
	}
	return cfg.Validate()
}
