package ingest

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"igma/internal/config"
	"igma/internal/model"
)

// StartFileTail follows JSON-lines files where each line is one cycle
// submission or an array of them.
func StartFileTail(ctx context.Context, cfg *config.Manager, out chan<- model.CycleInput, logger *slog.Logger) {
	current := cfg.Get().Ingest.FileTail
	if !current.Enabled {
		if logger != nil {
			logger.Info("file tail ingest disabled")
		}
		return
	}
	for _, path := range current.Files {
		if logger != nil {
			logger.Info("file tail ingest enabled", "path", path, "start_at_end", current.StartAtEnd)
		}
		go tailFile(ctx, path, current.StartAtEnd, out, logger)
	}
}

func tailFile(ctx context.Context, path string, startAtEnd bool, out chan<- model.CycleInput, logger *slog.Logger) {
	var file *os.File
	var offset int64
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if file == nil {
			f, err := os.Open(path)
			if err != nil {
				if logger != nil {
					logger.Warn("tail open failed", "path", path, "err", err)
				}
				if !BackoffSleep(ctx, 500*time.Millisecond) {
					return
				}
				continue
			}
			file = f
			offset = 0
			if startAtEnd {
				if pos, err := file.Seek(0, io.SeekEnd); err == nil {
					offset = pos
				}
			}
		}

		reader := bufio.NewReader(file)
		var partial strings.Builder
		for {
			chunk, err := reader.ReadString('\n')
			partial.WriteString(chunk)
			offset += int64(len(chunk))
			if err != nil {
				if err == io.EOF {
					if !BackoffSleep(ctx, 200*time.Millisecond) {
						_ = file.Close()
						return
					}
					info, statErr := os.Stat(path)
					if statErr == nil && info.Size() < offset {
						// truncated or rotated
						_ = file.Close()
						file = nil
						break
					}
					continue
				}
				if logger != nil {
					logger.Warn("tail read error", "path", path, "err", err)
				}
				_ = file.Close()
				file = nil
				break
			}
			line := partial.String()
			partial.Reset()
			if strings.TrimSpace(line) == "" {
				continue
			}
			inputs, err := DecodeCycles([]byte(line))
			if err != nil {
				if logger != nil {
					logger.Warn("tail decode error", "path", path, "err", err)
				}
				continue
			}
			for _, in := range inputs {
				SendNonBlocking(ctx, out, in, logger)
			}
		}
	}
}
