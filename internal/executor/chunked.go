package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/galaxy-gateway/discord-bot-sub001/internal/plugin"
)

// ExecuteChunked runs a chunked spec: one download into a temporary work
// directory, then the chunk command at increasing offsets until a chunk
// produces no output or the chunk cap is reached. Chunk templates see the
// derived placeholders ${media_file}, ${chunk_start} and ${chunk_duration};
// caller-supplied values can never override them.
func (e *Executor) ExecuteChunked(ctx context.Context, spec *plugin.ExecutionSpec, params map[string]string) (*Result, error) {
	ch := spec.Chunking
	if ch == nil {
		return nil, fmt.Errorf("execution spec has no chunking configuration")
	}

	workDir, err := os.MkdirTemp("", "chunked-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	derived := make(map[string]string, len(params)+3)
	for k, v := range params {
		derived[k] = v
	}
	derived["media_file"] = filepath.Join(workDir, "media")

	start := time.Now()

	downloadSpec := &plugin.ExecutionSpec{
		Command:        ch.DownloadCommand,
		Args:           ch.DownloadArgs,
		Timeout:        spec.Timeout,
		MaxOutputBytes: spec.MaxOutputBytes,
		WorkingDir:     workDir,
		Env:            spec.Env,
	}
	dl, err := e.Execute(ctx, downloadSpec, derived)
	if err != nil {
		return nil, err
	}
	if !dl.Success {
		dl.Duration = time.Since(start)
		return dl, nil
	}

	chunkSpec := &plugin.ExecutionSpec{
		Command:        ch.ChunkCommand,
		Args:           ch.ChunkArgs,
		Timeout:        ch.ChunkTimeout,
		MaxOutputBytes: spec.MaxOutputBytes,
		WorkingDir:     workDir,
		Env:            spec.Env,
	}

	maxBytes := spec.MaxOutputBytes
	if maxBytes <= 0 {
		maxBytes = 64 << 10
	}

	var combined strings.Builder
	chunkSeconds := int64(ch.ChunkDuration / time.Second)
	derived["chunk_duration"] = strconv.FormatInt(chunkSeconds, 10)

	for i := 0; i < ch.MaxChunks; i++ {
		derived["chunk_start"] = strconv.FormatInt(int64(i)*chunkSeconds, 10)

		res, err := e.Execute(ctx, chunkSpec, derived)
		if err != nil {
			return nil, err
		}
		if !res.Success {
			// A failing chunk past the start of the media usually means the
			// offset ran off the end; what was gathered so far still counts.
			if i == 0 {
				res.Duration = time.Since(start)
				return res, nil
			}
			e.logger.Debug("Chunk run stopped",
				zap.Int("chunk", i),
				zap.Int("exit_code", res.ExitCode),
				zap.Bool("timed_out", res.TimedOut),
			)
			break
		}
		text := strings.TrimSpace(res.Stdout)
		if text == "" {
			break
		}
		if combined.Len() > 0 {
			combined.WriteString("\n")
		}
		combined.WriteString(text)

		if int64(combined.Len()) >= maxBytes {
			return &Result{
				Success:   true,
				Stdout:    combined.String()[:maxBytes] + truncationMarker,
				Truncated: true,
				Duration:  time.Since(start),
			}, nil
		}
	}

	return &Result{
		Success:  true,
		Stdout:   combined.String(),
		Duration: time.Since(start),
	}, nil
}
