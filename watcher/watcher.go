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

// Package watcher 监视一个目录 把新出现的文件路径投递给 ingest.Ingester
package watcher

import (
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/telemetryd/telemetryd/logger"
)

// Watch 监视 inputDirectory 先投递启动时已存在的文件 之后在每个创建或写入
// 事件上投递对应路径到返回的 channel；同一文件可能被投递多次
//
// 调用方通过 stop 指示停止：close(stop) 后 Watch 关闭返回的 channel 并退出
func Watch(inputDirectory string, stop <-chan struct{}) (<-chan string, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "watcher: create fsnotify watcher failed")
	}
	if err := w.Add(inputDirectory); err != nil {
		w.Close()
		return nil, errors.Wrapf(err, "watcher: watch %q failed", inputDirectory)
	}

	out := make(chan string)
	go loop(w, inputDirectory, out, stop)

	return out, nil
}

func loop(w *fsnotify.Watcher, inputDirectory string, out chan<- string, stop <-chan struct{}) {
	defer w.Close()
	defer close(out)

	if err := emitExisting(inputDirectory, out, stop); err != nil {
		logger.Warnf("watcher: listing existing files in %q failed: %v", inputDirectory, err)
	}

	for {
		select {
		case <-stop:
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			select {
			case out <- event.Name:
			case <-stop:
				return
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Warnf("watcher: fsnotify error: %v", err)
		}
	}
}

// emitExisting 把启动时已经存在于目录里的普通文件也投递出去
//
// 避免只依赖 fsnotify 事件而错过进程重启前就已经落地的文件
func emitExisting(dir string, out chan<- string, stop <-chan struct{}) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		select {
		case out <- filepath.Join(dir, e.Name()):
		case <-stop:
			return nil
		}
	}
	return nil
}
