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

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/alecthomas/kingpin/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/sovereignproject/sovereign/internal/accesslog"
	"github.com/sovereignproject/sovereign/internal/applog"
	"github.com/sovereignproject/sovereign/internal/build"
	"github.com/sovereignproject/sovereign/internal/cachebackend"
	"github.com/sovereignproject/sovereign/internal/config"
	"github.com/sovereignproject/sovereign/internal/crypto"
	"github.com/sovereignproject/sovereign/internal/dualcache"
	"github.com/sovereignproject/sovereign/internal/httpapi"
	"github.com/sovereignproject/sovereign/internal/httpsvc"
	"github.com/sovereignproject/sovereign/internal/loadable"
	"github.com/sovereignproject/sovereign/internal/localcache"
	"github.com/sovereignproject/sovereign/internal/metrics"
	"github.com/sovereignproject/sovereign/internal/modifier"
	"github.com/sovereignproject/sovereign/internal/poller"
	"github.com/sovereignproject/sovereign/internal/readside"
	"github.com/sovereignproject/sovereign/internal/remotecache"
	"github.com/sovereignproject/sovereign/internal/render"
	"github.com/sovereignproject/sovereign/internal/renderqueue"
	"github.com/sovereignproject/sovereign/internal/source"
	"github.com/sovereignproject/sovereign/internal/template"
	"github.com/sovereignproject/sovereign/internal/templatecontext"
	"github.com/sovereignproject/sovereign/internal/worker"
	"github.com/sovereignproject/sovereign/internal/workerapi"
	"github.com/sovereignproject/sovereign/internal/workgroup"
)

type serveContext struct {
	configPath  string
	overlayPath string
}

func registerServe(app *kingpin.Application) (*kingpin.CmdClause, *serveContext) {
	cmd := app.Command("serve", "Serve xDS discovery traffic.")
	ctx := &serveContext{}
	cmd.Flag("config-path", "Path to the base configuration file.").Short('c').Required().ExistingFileVar(&ctx.configPath)
	cmd.Flag("overlay-path", "Path to an environment-specific overlay, merged on top of config-path.").ExistingFileVar(&ctx.overlayPath)
	return cmd, ctx
}

func doServe(serveCtx *serveContext, fallbackLog logrus.FieldLogger) error {
	cfg, err := config.ParseFile(serveCtx.configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if serveCtx.overlayPath != "" {
		overlay, err := config.ParseFile(serveCtx.overlayPath)
		if err != nil {
			return fmt.Errorf("loading configuration overlay: %w", err)
		}
		cfg, err = config.Overlay(cfg, overlay)
		if err != nil {
			return fmt.Errorf("merging configuration overlay: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log := applog.New(applog.Config{Level: cfg.Logging.Level, JSON: cfg.Logging.JSON})
	log.WithField("version", build.Version).Info("starting sovereignctl")

	promRegistry := prometheus.NewRegistry()
	m := metrics.NewMetrics(promRegistry)

	cache, err := buildCache(cfg, log, m)
	if err != nil {
		return fmt.Errorf("building cache: %w", err)
	}

	cipherSuite := crypto.New(crypto.Kind(cfg.Crypto.Suite), cfg.Crypto.EncryptionKey)
	cipherContainer := crypto.NewContainer(log, cipherSuite, crypto.DisabledSuite{})
	authenticator := crypto.NewAuthenticator(cipherContainer, cfg.Crypto.AuthPasswords, cfg.Crypto.AuthEnabled)

	sources, err := buildSources(cfg)
	if err != nil {
		return fmt.Errorf("building sources: %w", err)
	}
	globalMods, err := modifier.LookupGlobal(cfg.GlobalModifiers)
	if err != nil {
		return fmt.Errorf("looking up global modifiers: %w", err)
	}
	mods, err := modifier.Lookup(cfg.Modifiers)
	if err != nil {
		return fmt.Errorf("looking up modifiers: %w", err)
	}

	p, err := poller.New(poller.Config{
		Sources:         sources,
		MatchingEnabled: cfg.MatchingEnabled,
		NodeMatchKey:    cfg.NodeMatchKey,
		SourceMatchKey:  cfg.SourceMatchKey,
		RefreshInterval: cfg.SourcesRefreshRate,
		GlobalModifiers: globalMods,
		Modifiers:       mods,
		Metrics:         m,
		Log:             log.WithField("component", "poller"),
	})
	if err != nil {
		return fmt.Errorf("building poller: %w", err)
	}

	scheduler := templatecontext.New(templatecontext.Config{
		Bus: p.Bus(),
		Log: log.WithField("component", "context"),
	})
	if err := registerContextTasks(scheduler, cfg); err != nil {
		return fmt.Errorf("registering template context tasks: %w", err)
	}

	templateRegistry, err := buildTemplateRegistry(cfg)
	if err != nil {
		return fmt.Errorf("building template registry: %w", err)
	}

	pool := render.NewPool(cfg.RendererPath, cfg.RenderTimeout)
	queue := renderqueue.New(1000)

	w, err := worker.New(worker.Config{
		Poller:     p,
		Scheduler:  scheduler,
		Registry:   templateRegistry,
		Pool:       pool,
		Queue:      queue,
		Cache:      cache,
		Bus:        p.Bus(),
		CacheRules: cfg.Cache.Rules,
		RenderWorkers: cfg.RenderWorkers,
		Log:        log.WithField("component", "worker"),
	})
	if err != nil {
		return fmt.Errorf("building worker: %w", err)
	}

	workerURL := fmt.Sprintf("http://%s:%d/client", cfg.WorkerHost, cfg.WorkerPort)
	reader := readside.New(cache, workerURL, cfg.Cache.Rules)
	reader.Timeout = cfg.Cache.ReadTimeout
	reader.Log = log.WithField("component", "readside")

	outwardHandler := httpapi.New(reader)
	outwardHandler.Auth = authenticator
	outwardHandler.Log = log.WithField("component", "httpapi")

	internalHandler := workerapi.New(cache, queue, cfg.Cache.Rules)
	internalHandler.Log = log.WithField("component", "workerapi")

	accessLog := accesslog.New(log.WithField("component", "access"), cfg.Logging.AccessLogsEnabled, cfg.Logging.IgnoreEmptyFields)

	outwardSvc := &httpsvc.Service{Addr: cfg.Host, Port: cfg.Port, FieldLogger: log.WithField("listener", "discovery")}
	outwardHandler.Register(&outwardSvc.ServeMux)
	outwardSvc.ServeMux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	outwardSvc.ServeMux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(build.String()))
	})
	outwardSvc.Handler = accessLog.Wrap(&outwardSvc.ServeMux)

	internalSvc := &httpsvc.Service{Addr: cfg.WorkerHost, Port: cfg.WorkerPort, FieldLogger: log.WithField("listener", "worker")}
	internalHandler.Register(&internalSvc.ServeMux)

	var g workgroup.Group
	g.AddContext(w.Run)
	g.AddContext(outwardSvc.Start)
	g.AddContext(internalSvc.Start)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return g.Run(ctx)
}

func buildSources(cfg *config.Config) ([]poller.ConfiguredSource, error) {
	configured := make([]poller.ConfiguredSource, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		src, err := source.New(source.Config{Type: sc.Type, Scope: sc.Scope, Config: sc.Config})
		if err != nil {
			return nil, fmt.Errorf("source %q (scope %q): %w", sc.Type, sc.Scope, err)
		}
		configured = append(configured, poller.ConfiguredSource{Source: src, Scope: sc.Scope})
	}
	return configured, nil
}

func registerContextTasks(scheduler *templatecontext.Scheduler, cfg *config.Config) error {
	for _, entry := range cfg.TemplateContext {
		spec, err := loadable.ParseLegacy(entry.Path)
		if err != nil {
			return fmt.Errorf("template context %q: %w", entry.Name, err)
		}
		interval, err := templatecontext.ParseInterval(entry.RefreshRate)
		if err != nil {
			return fmt.Errorf("template context %q: %w", entry.Name, err)
		}
		scheduler.RegisterTask(templatecontext.Task{Name: entry.Name, Spec: spec, Interval: interval})
	}
	return nil
}

func buildTemplateRegistry(cfg *config.Config) (*render.Registry, error) {
	sets := map[string]render.TemplateSet{}
	for versionKey, templates := range cfg.Templates {
		set := render.TemplateSet{}
		for resourceType, tc := range templates {
			path, err := loadable.ParseLegacy(tc.Path)
			if err != nil {
				return nil, fmt.Errorf("template %s/%s: %w", versionKey, resourceType, err)
			}
			compiled, err := template.Compile(template.Spec{ResourceType: resourceType, Path: path})
			if err != nil {
				return nil, fmt.Errorf("template %s/%s: %w", versionKey, resourceType, err)
			}
			set[resourceType] = compiled
		}
		sets[versionKey] = set
	}
	return render.NewRegistry(sets)
}

func buildCache(cfg *config.Config, log logrus.FieldLogger, m *metrics.Metrics) (*dualcache.Cache, error) {
	local, err := localcache.Open(cfg.Cache.LocalDir)
	if err != nil {
		return nil, fmt.Errorf("opening local cache at %s: %w", cfg.Cache.LocalDir, err)
	}

	var remote cachebackend.Backend
	if cfg.Cache.RemoteBucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, fmt.Errorf("loading AWS config for remote cache: %w", err)
		}
		client := s3.NewFromConfig(awsCfg)
		remote = &remotecache.Cache{
			Client: client,
			Bucket: cfg.Cache.RemoteBucket,
			Prefix: cfg.Cache.RemotePrefix,
		}
	}

	return &dualcache.Cache{Local: local, Remote: remote, Log: log.WithField("component", "cache"), Metrics: m}, nil
}
