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

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/telemetryd/telemetryd/dimension"
	"github.com/telemetryd/telemetryd/histogramcache"
	"github.com/telemetryd/telemetryd/ingest"
	"github.com/telemetryd/telemetryd/writer"
)

// convertCmdConfig 是单次离线转换所需的全部参数 不经过 controller/watcher
// 适合调试一个录制好的提交文件在特定 dimension schema 下的落盘结果
type convertCmdConfig struct {
	Input            string
	TelemetrySchema  string
	HistogramServer  string
	OutputDir        string
	MaxUncompressed  uint64
	MemoryConstraint int
}

var convertConfig convertCmdConfig

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert a single recorded submission file into partitioned ndjson output, for debugging",
	Run: func(cmd *cobra.Command, args []string) {
		schemaBytes, err := os.ReadFile(convertConfig.TelemetrySchema)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to read telemetry schema: %v\n", err)
			os.Exit(1)
		}
		schema, err := dimension.Parse(schemaBytes)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to parse telemetry schema: %v\n", err)
			os.Exit(1)
		}

		fetcher := histogramcache.NewHTTPFetcher(convertConfig.HistogramServer, 10*time.Second)
		cache := histogramcache.New(fetcher)

		w := writer.New(writer.Config{
			StoragePath:      convertConfig.OutputDir,
			UploadPath:       convertConfig.OutputDir,
			MaxUncompressed:  convertConfig.MaxUncompressed,
			MemoryConstraint: convertConfig.MemoryConstraint,
		})

		ig := ingest.New(cache, schema, w)
		if err := ig.IngestFile(convertConfig.Input); err != nil {
			fmt.Fprintf(os.Stderr, "failed to ingest %q: %v\n", convertConfig.Input, err)
			os.Exit(1)
		}
		if err := w.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close writer: %v\n", err)
			os.Exit(1)
		}

		stats := ig.Stats()
		fmt.Printf("records read=%d failed=%d bytes=%d\n", stats.RecordsRead, stats.RecordsFailed, stats.BytesRead)
	},
	Example: "# telemetryd convert --input submit.bin --schema telemetry-schema.json " +
		"--histogram-server localhost:9898 --output ./out",
}

func init() {
	convertCmd.Flags().StringVar(&convertConfig.Input, "input", "", "Path to a recorded submission file")
	convertCmd.Flags().StringVar(&convertConfig.TelemetrySchema, "schema", "", "Path to the dimension schema file")
	convertCmd.Flags().StringVar(&convertConfig.HistogramServer, "histogram-server", "", "host[:port] of the histogram_buckets server")
	convertCmd.Flags().StringVar(&convertConfig.OutputDir, "output", ".", "Output directory for converted ndjson files")
	convertCmd.Flags().Uint64Var(&convertConfig.MaxUncompressed, "max-uncompressed", 64<<20, "Bytes before a partition file is rolled")
	convertCmd.Flags().IntVar(&convertConfig.MemoryConstraint, "memory-constraint", 32, "Maximum number of partition files held open at once")
	_ = convertCmd.MarkFlagRequired("input")
	_ = convertCmd.MarkFlagRequired("schema")
	_ = convertCmd.MarkFlagRequired("histogram-server")
	rootCmd.AddCommand(convertCmd)
}
