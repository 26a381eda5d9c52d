// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package pingpong

import (
	"context"
	"net/http"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/pingcap/tiactor/pkg/actor"
	"github.com/pingcap/tiactor/pkg/cmd/util"
	"github.com/pingcap/tiactor/pkg/config"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/pingcap/tiactor/pkg/logutil"
	"github.com/pingcap/tiactor/pkg/threadpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPongs          = 5
	defaultReportInterval = time.Second
	statusShutdownTimeout = 5 * time.Second
	goMemLimitRatio       = 0.9
)

// options defines flags for the `pingpong` command.
type options struct {
	configFilePath string
	pongs          int
	rounds         int64
	duration       time.Duration
	reportInterval time.Duration
	statusAddr     string
	exchange       bool

	runtimeConfig *config.RuntimeConfig
}

// newOptions creates new options for the `pingpong` command.
func newOptions() *options {
	return &options{
		runtimeConfig: config.GetDefaultRuntimeConfig(),
	}
}

// addFlags receives a *cobra.Command reference and binds
// flags related to the ping/pong scenario to it.
func (o *options) addFlags(cmd *cobra.Command) {
	defaultConfig := config.GetDefaultRuntimeConfig()
	cmd.Flags().StringVar(&o.configFilePath, "config", "", "Path of the configuration file")
	cmd.Flags().StringVar(&o.runtimeConfig.Log.Level, "log-level", defaultConfig.Log.Level, "log level (etc: debug|info|warn|error)")
	cmd.Flags().StringVar(&o.runtimeConfig.Log.File, "log-file", defaultConfig.Log.File, "log file path")
	cmd.Flags().IntVar(&o.runtimeConfig.UserThreads, "user-threads", defaultConfig.UserThreads, "number of workers running actors")

	cmd.Flags().IntVar(&o.pongs, "pongs", defaultPongs, "number of pong actors")
	cmd.Flags().Int64Var(&o.rounds, "rounds", 0, "stop once every pong has played this many rounds, 0 means no limit")
	cmd.Flags().DurationVar(&o.duration, "duration", 0, "stop after this duration, 0 means no limit")
	cmd.Flags().DurationVar(&o.reportInterval, "report-interval", defaultReportInterval, "interval of progress logs")
	cmd.Flags().StringVar(&o.statusAddr, "status-addr", "", "serve /metrics on this address if not empty")
	cmd.Flags().BoolVar(&o.exchange, "exchange", false, "publish pings through an exchange instead of sending them directly")
}

func (o *options) loadAndVerifyConfig(cmd *cobra.Command) (*config.RuntimeConfig, error) {
	conf := config.GetDefaultRuntimeConfig()
	if len(o.configFilePath) > 0 {
		if err := config.StrictDecodeFile(o.configFilePath, "tiactor pingpong", conf); err != nil {
			return nil, err
		}
	}
	cmd.Flags().Visit(func(flag *pflag.Flag) {
		switch flag.Name {
		case "log-level":
			conf.Log.Level = o.runtimeConfig.Log.Level
		case "log-file":
			conf.Log.File = o.runtimeConfig.Log.File
		case "user-threads":
			conf.UserThreads = o.runtimeConfig.UserThreads
		case "config", "pongs", "rounds", "duration", "report-interval", "status-addr", "exchange":
			// do nothing
		default:
			log.Panic("unknown flag, please report a bug", zap.String("flagName", flag.Name))
		}
	})

	var err error
	if verr := conf.ValidateAndAdjust(); verr != nil {
		err = multierr.Append(err, verr)
	}
	if o.pongs <= 0 {
		err = multierr.Append(err, cerrors.ErrInvalidConfig.GenWithStackByArgs("pongs must be positive"))
	}
	if o.rounds < 0 {
		err = multierr.Append(err, cerrors.ErrInvalidConfig.GenWithStackByArgs("rounds must not be negative"))
	}
	if o.reportInterval <= 0 {
		err = multierr.Append(err, cerrors.ErrInvalidConfig.GenWithStackByArgs("report-interval must be positive"))
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	return conf, nil
}

func (o *options) run(cmd *cobra.Command) error {
	conf, err := o.loadAndVerifyConfig(cmd)
	if err != nil {
		return errors.Trace(err)
	}

	ctx, cancel := util.InitCmd(cmd, conf.Log)
	defer cancel()
	util.SetGoMemLimit(goMemLimitRatio)
	shutdownDone := make(chan struct{})
	defer close(shutdownDone)
	util.InitSignalHandling(func() <-chan struct{} {
		cancel()
		return shutdownDone
	}, cancel)
	if o.duration > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, o.duration)
		defer cancelTimeout()
	}

	sys, err := actor.NewSystem(conf)
	if err != nil {
		return errors.Annotate(err, "new actor system")
	}
	defer sys.Stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	threadpool.InitMetrics(registry)
	actor.InitMetrics(registry)

	st := newStats(o.pongs)
	ping := newPingActor(o.pongs, o.rounds, o.exchange, st)
	if _, err := sys.MakeActor("ping", ping); err != nil {
		return errors.Trace(err)
	}

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	eg, egCtx := errgroup.WithContext(runCtx)
	if o.statusAddr != "" {
		eg.Go(func() error {
			return serveStatus(egCtx, o.statusAddr, registry)
		})
	}
	eg.Go(func() error {
		defer runCancel()
		report(egCtx, st, o.reportInterval, ping.Done())
		return nil
	})
	if err := eg.Wait(); err != nil {
		return errors.Trace(err)
	}

	log.Info("ping-pong finished", zap.String("system", sys.ID()))
	return util.JSONPrint(cmd, st.summary(sys.ID(), ping.mode()))
}

// report logs the rounds of every pong each interval until ctx is done or
// the game is over.
func report(ctx context.Context, st *stats, interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			log.Info("ping-pong progress", zap.Int64s("rounds", st.snapshot()))
			return
		case <-ticker.C:
			log.Info("ping-pong progress", zap.Int64s("rounds", st.snapshot()))
		}
	}
}

func newStatusHandler(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/log-level", handleLogLevel)
	return mux
}

// handleLogLevel changes the global log level, e.g.
// `curl -X POST -d level=debug http://<status-addr>/log-level`.
func handleLogLevel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "only POST is allowed", http.StatusMethodNotAllowed)
		return
	}
	level := r.FormValue("level")
	if err := logutil.SetLogLevel(level); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	log.Warn("log level changed", zap.String("level", level))
	w.WriteHeader(http.StatusOK)
}

// serveStatus serves the status handler until ctx is done.
func serveStatus(ctx context.Context, addr string, registry *prometheus.Registry) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           newStatusHandler(registry),
		ReadHeaderTimeout: statusShutdownTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info("status server started", zap.String("addr", addr))

	var err error
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), statusShutdownTimeout)
		defer cancel()
		err = srv.Shutdown(shutdownCtx)
		if serveErr := <-errCh; serveErr != http.ErrServerClosed {
			err = multierr.Append(err, serveErr)
		}
	case err = <-errCh:
	}
	log.Info("status server exited", logutil.ZapErrorFilter(err, http.ErrServerClosed))
	if err == http.ErrServerClosed {
		return nil
	}
	return errors.Annotate(err, "serve status")
}

// NewCmdPingPong creates the `pingpong` command.
func NewCmdPingPong() *cobra.Command {
	o := newOptions()

	command := &cobra.Command{
		Use:   "pingpong",
		Short: "Run a ping actor bouncing counters with pong actors",
		Run: func(cmd *cobra.Command, args []string) {
			util.CheckErr(o.run(cmd))
		},
	}

	o.addFlags(command)

	return command
}
