// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package controller 拥有摄取流水线、admin HTTP 服务 负责启动、重载、停止
package controller

import (
	"context"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telemetryd/telemetryd/common"
	"github.com/telemetryd/telemetryd/confengine"
	"github.com/telemetryd/telemetryd/dimension"
	"github.com/telemetryd/telemetryd/histogramcache"
	"github.com/telemetryd/telemetryd/ingest"
	"github.com/telemetryd/telemetryd/internal/rescue"
	"github.com/telemetryd/telemetryd/internal/sigs"
	"github.com/telemetryd/telemetryd/logger"
	"github.com/telemetryd/telemetryd/server"
	"github.com/telemetryd/telemetryd/watcher"
	"github.com/telemetryd/telemetryd/writer"
)

// Controller 拥有一个被监视目录、共享的 histogram cache/dimension schema/
// writer，以及每个被发现文件各自的摄取协程
type Controller struct {
	conf Config

	cache  *histogramcache.Cache
	schema *dimension.Schema
	w      *writer.RollingWriter
	srv    *server.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopWatch chan struct{}
}

// setupLogger 按 conf 的 logger 小节重新配置全局日志实例
//
// defaultFilename 来自 controller 小节的 log_path 在 logger 小节未单独
// 指定 filename 时作为缺省值
func setupLogger(conf *confengine.Config, defaultFilename string) error {
	var opts logger.Options
	if err := conf.UnpackChild("logger", &opts); err != nil {
		return err
	}

	if opts.Filename == "" {
		opts.Filename = defaultFilename
	}
	if opts.Filename == "" {
		opts.Filename = "telemetryd.log"
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 10
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 7
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = 100
	}

	logger.SetOptions(opts)
	return nil
}

// New 按 conf 中的 controller 小节构造一个 Controller
func New(conf *confengine.Config) (*Controller, error) {
	var cfg Config
	if err := conf.UnpackChild("controller", &cfg); err != nil {
		return nil, errors.Wrap(err, "controller: unpack config failed")
	}

	if err := setupLogger(conf, cfg.LogPath); err != nil {
		return nil, errors.Wrap(err, "controller: setup logger failed")
	}

	schemaBytes, err := os.ReadFile(cfg.TelemetrySchema)
	if err != nil {
		return nil, errors.Wrapf(err, "controller: read telemetry schema %q failed", cfg.TelemetrySchema)
	}
	schema, err := dimension.Parse(schemaBytes)
	if err != nil {
		return nil, errors.Wrap(err, "controller: parse telemetry schema failed")
	}

	fetcher := histogramcache.NewHTTPFetcher(cfg.HistogramServer, cfg.httpTimeout())
	cache := histogramcache.New(fetcher)

	w := writer.New(writer.Config{
		StoragePath:       cfg.StoragePath,
		UploadPath:        cfg.UploadPath,
		MaxUncompressed:   cfg.MaxUncompressed,
		MemoryConstraint:  cfg.MemoryConstraint,
		CompressionPreset: writer.CompressionPreset(cfg.CompressionPreset),
	})

	srv, err := server.New(conf)
	if err != nil {
		return nil, errors.Wrap(err, "controller: create admin server failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		conf:   cfg,
		cache:  cache,
		schema: schema,
		w:      w,
		srv:    srv,
		ctx:    ctx,
		cancel: cancel,
	}

	if c.srv != nil {
		c.registerRoutes()
	}
	return c, nil
}

// Start 启动目录监视、admin 服务
func (c *Controller) Start() error {
	stop := make(chan struct{})
	c.stopWatch = stop

	files, err := watcher.Watch(c.conf.InputDirectory, stop)
	if err != nil {
		return errors.Wrap(err, "controller: start watcher failed")
	}

	c.wg.Add(1)
	go c.consumeFiles(files)

	if c.srv != nil {
		go func() {
			defer rescue.HandleCrash()
			if err := c.srv.ListenAndServe(); err != nil {
				logger.Errorf("controller: admin server stopped: %v", err)
			}
		}()
	}
	return nil
}

// consumeFiles 为每个被监视目录发现的文件启动一个独立的 Ingester 协程
//
// 结构上对应 controller.consumeRoundTrip 的 for-select 消费循环 只是
// 这里每个条目都 fan-out 成自己的一个协程 而不是同一个协程里顺序处理 -
// 每个输入文件互不影响 只有 cache 在它们之间共享
func (c *Controller) consumeFiles(files <-chan string) {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return

		case path, ok := <-files:
			if !ok {
				return
			}
			filesInFlight.Inc()
			c.wg.Add(1)
			go func(path string) {
				defer c.wg.Done()
				defer filesInFlight.Dec()
				defer rescue.HandleCrash()

				ig := ingest.New(c.cache, c.schema, c.w)
				if err := ig.IngestFile(path); err != nil {
					logger.Errorf("controller: ingest %q failed: %v", path, err)
				}
				stats := ig.Stats()
				recordsRead.Add(float64(stats.RecordsRead))
				recordsFailed.Add(float64(stats.RecordsFailed))
				bytesRead.Add(float64(stats.BytesRead))
				framesResynced.Add(float64(stats.FramesResynced))
			}(path)
		}
	}
}

// recordMetrics 在每次 /metrics 被抓取时刷新 uptime/build_info 这两个随时间
// 变化的 gauge 其余指标都是在摄取路径上实时累加的计数器
func (c *Controller) recordMetrics() {
	uptime.Set(float64(time.Now().Unix() - common.Started()))
	info := common.GetBuildInfo()
	buildInfo.WithLabelValues(info.Version, info.GitHash, info.Time).Set(1)
}

// Reload 重新解析 dimension schema 文件 原地替换 schema 指针
//
// histogram cache 不会被重载：revision 内容是按 digest 去重的 不需要
// 重启取回
func (c *Controller) Reload(conf *confengine.Config) error {
	var cfg Config
	if err := conf.UnpackChild("controller", &cfg); err != nil {
		return errors.Wrap(err, "controller: unpack config failed")
	}

	if err := setupLogger(conf, cfg.LogPath); err != nil {
		return errors.Wrap(err, "controller: setup logger failed")
	}

	schemaBytes, err := os.ReadFile(cfg.TelemetrySchema)
	if err != nil {
		return errors.Wrapf(err, "controller: read telemetry schema %q failed", cfg.TelemetrySchema)
	}
	schema, err := dimension.Parse(schemaBytes)
	if err != nil {
		return errors.Wrap(err, "controller: parse telemetry schema failed")
	}

	c.schema = schema
	c.conf = cfg
	return nil
}

// Stop 停止目录监视 等待在途文件摄取完成 关闭 writer
//
// admin 服务不会被关闭 它的协程一直运行到进程退出
func (c *Controller) Stop() {
	if c.stopWatch != nil {
		close(c.stopWatch)
	}
	c.cancel()
	c.wg.Wait()

	if err := c.w.Close(); err != nil {
		logger.Errorf("controller: close writer failed: %v", err)
	}
}

func (c *Controller) registerRoutes() {
	c.srv.RegisterGetRoute("/metrics", func(w http.ResponseWriter, r *http.Request) {
		c.recordMetrics()
		promhttp.Handler().ServeHTTP(w, r)
	})

	c.srv.RegisterPostRoute("/-/logger", func(w http.ResponseWriter, r *http.Request) {
		logger.SetLoggerLevel(r.FormValue("level"))
		_, _ = w.Write([]byte(`{"status": "success"}`))
	})

	// 实际的 reload 发生在 cmd 里的 SIGHUP 处理循环 这里只是把它暴露成
	// 一个 HTTP 触发点
	c.srv.RegisterPostRoute("/-/reload", func(w http.ResponseWriter, r *http.Request) {
		if err := sigs.SelfReload(); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(err.Error()))
		}
	})
}
