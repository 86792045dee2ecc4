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

package main

import "github.com/alecthomas/kingpin/v2"

type validateContext struct {
	configPath string
}

func registerValidateConfig(app *kingpin.Application) (*kingpin.CmdClause, *validateContext) {
	cmd := app.Command("validate-config", "Parse and validate a configuration file without starting the server.")
	ctx := &validateContext{}
	cmd.Arg("config-path", "Path to the configuration file.").Required().ExistingFileVar(&ctx.configPath)
	return cmd, ctx
}
