// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"github.com/zincware/asebytes/common"
	"github.com/zincware/asebytes/common/interrupt"
	"github.com/zincware/asebytes/config"
	"github.com/zincware/asebytes/database"
	"github.com/zincware/asebytes/metrics"
	"github.com/zincware/asebytes/sequence"
)

var (
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "YAML configuration file, searched in the working directory if not set",
	}
	dirFlag = cli.StringFlag{
		Name:  "dir",
		Usage: "the directory of the store, overriding the configuration",
	}
	variantFlag = cli.StringFlag{
		Name:  "variant",
		Usage: "the store implementation (leveldb, sqlite or memory)",
	}
	prefixFlag = cli.StringFlag{
		Name:  "prefix",
		Usage: "the key prefix of the sequence within the store",
	}
	compressionFlag = cli.StringFlag{
		Name:  "compression",
		Usage: "the compression of new sequences (none, lz4 or zstd)",
	}
	logLevelFlag = cli.StringFlag{
		Name:  "log-level",
		Usage: "minimum level of log messages (debug, info, warn or error)",
	}
	metricsAddrFlag = cli.StringFlag{
		Name:  "metrics-addr",
		Usage: "address serving prometheus metrics while the command runs, e.g. :9100",
	}
)

// session is an open sequence together with the resources of a command.
type session struct {
	ctx     context.Context
	seq     *sequence.Sequence
	log     *common.Log
	cancel  context.CancelFunc
	metrics io.Closer // nil if metrics are not served
}

// open opens the configured sequence, applying command line overrides.
func open(c *cli.Context, readOnly bool) (*session, error) {
	cfg, err := config.Load(c.String(configFlag.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration; %w", err)
	}
	if c.IsSet(dirFlag.Name) {
		cfg.Store.Directory = c.String(dirFlag.Name)
	}
	if c.IsSet(variantFlag.Name) {
		cfg.Store.Variant = c.String(variantFlag.Name)
	}
	if c.IsSet(prefixFlag.Name) {
		cfg.Store.Prefix = c.String(prefixFlag.Name)
	}
	if c.IsSet(compressionFlag.Name) {
		cfg.Store.Compression = c.String(compressionFlag.Name)
	}
	if c.IsSet(logLevelFlag.Name) {
		cfg.Log.Level = c.String(logLevelFlag.Name)
	}
	if c.IsSet(metricsAddrFlag.Name) {
		cfg.Metrics.Addr = c.String(metricsAddrFlag.Name)
	}

	log, err := common.NewLogFor(c.App.ErrWriter, cfg.Log.Level, "text")
	if err != nil {
		return nil, err
	}
	params := cfg.Store.Parameters()
	params.ReadOnly = params.ReadOnly || readOnly
	params.Logger = log.Logger()

	ctx, cancel := context.WithCancel(c.Context)
	res := &session{
		ctx:    interrupt.Register(ctx, log.Logger()),
		log:    log,
		cancel: cancel,
	}
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		observer, err := metrics.NewObserver(reg)
		if err != nil {
			cancel()
			return nil, err
		}
		server, err := serveMetrics(cfg.Metrics.Addr, reg, log)
		if err != nil {
			cancel()
			return nil, err
		}
		res.metrics = server
		params.Observer = observer
	}

	log.Print("opening sequence", "variant", params.Variant, "directory", params.Directory, "prefix", params.Prefix)
	res.seq, err = database.OpenSequence(res.ctx, params)
	if err != nil {
		cancel()
		return nil, errors.Join(err, common.CloseAll(res.metrics))
	}
	return res, nil
}

func (s *session) close() error {
	s.log.Print("closing sequence")
	defer s.cancel()
	return common.CloseAll(s.seq, s.metrics)
}

// run opens the sequence, runs the given action and closes the sequence.
func run(c *cli.Context, readOnly bool, action func(s *session) error) (err error) {
	s, err := open(c, readOnly)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.close())
	}()
	return action(s)
}

// metricsServer serves metrics until it is closed.
type metricsServer struct {
	server *http.Server
}

func (m *metricsServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.server.Shutdown(ctx)
}

func serveMetrics(addr string, gatherer prometheus.Gatherer, log *common.Log) (*metricsServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to serve metrics; %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(gatherer))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Logger().Error("metrics server failed", "error", err)
		}
	}()
	log.Print("serving metrics", "address", listener.Addr().String())
	return &metricsServer{server: server}, nil
}

func parseIndex(c *cli.Context) (int, error) {
	if c.NArg() < 1 {
		return 0, fmt.Errorf("missing index argument")
	}
	index, err := strconv.Atoi(c.Args().First())
	if err != nil {
		return 0, fmt.Errorf("invalid index %q", c.Args().First())
	}
	return index, nil
}

// parseFields converts NAME=VALUE arguments into a record.
func parseFields(args []string) (sequence.Record, error) {
	res := sequence.Record{}
	for _, arg := range args {
		name, value, found := strings.Cut(arg, "=")
		if !found || name == "" {
			return nil, fmt.Errorf("invalid field %q, expected NAME=VALUE", arg)
		}
		res[name] = []byte(value)
	}
	return res, nil
}
