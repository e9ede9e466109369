package cmd

import (
	"EmotionDet/engine"
	iface "EmotionDet/interface"
	"EmotionDet/logger"
	"EmotionDet/worker"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var batchWorkers int

// BatchResult is one output line of the batch command.
type BatchResult struct {
	Path string `json:"path"`
	iface.Result
}

var batchCmd = &cobra.Command{
	Use:   "batch <dir>",
	Short: "Classify every jpg/png image in a directory, one JSON line per image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := listImages(args[0])
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return fmt.Errorf("no images found in %s", args[0])
		}
		bundle, err := loadBundle()
		if err != nil {
			return err
		}
		workers := cfg.Server.WorkersNum
		if cmd.Flags().Changed("workers") {
			workers = batchWorkers
		}
		pool, err := worker.Start(workers, func(int) (iface.Backend, error) {
			return newDetector(cfg, bundle)
		})
		if err != nil {
			return err
		}
		defer pool.Close()

		results := make([]BatchResult, len(files))
		bar := progressbar.NewOptions(len(files),
			progressbar.OptionSetDescription("Classifying"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
		)
		jobs := make(chan int)
		var wg sync.WaitGroup
		for i := 0; i < pool.Size(); i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for idx := range jobs {
					results[idx] = classifyPath(cmd, pool, files[idx])
					_ = bar.Add(1)
				}
			}()
		}
	feed:
		for i := range files {
			select {
			case jobs <- i:
			case <-cmd.Context().Done():
				break feed
			}
		}
		close(jobs)
		wg.Wait()
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
		if err := cmd.Context().Err(); err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, r := range results {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	},
}

func classifyPath(cmd *cobra.Command, pool *worker.Pool, path string) BatchResult {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Log().Error("read image", zap.String("path", path), zap.Error(err))
		return BatchResult{Path: path, Result: iface.ErrorResult(fmt.Sprintf("%s at %s", engine.ErrUnreadableImage, path))}
	}
	res, err := pool.Submit(cmd.Context(), data)
	if err != nil {
		res = iface.ErrorResult(err.Error())
	}
	return BatchResult{Path: path, Result: res}
}

// listImages returns the jpg/jpeg/png files directly inside dir, sorted.
func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func init() {
	batchCmd.Flags().IntVarP(&batchWorkers, "workers", "w", 1, "Number of parallel detectors (overrides server.workersNum)")
	rootCmd.AddCommand(batchCmd)
}
