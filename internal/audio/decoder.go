package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// FFmpegDecoder uses FFmpeg for audio decoding
type FFmpegDecoder struct {
	ffmpegPath  string
	ffprobePath string
	nicePath    string
}

// NewFFmpegDecoder creates a new FFmpeg-based decoder
func NewFFmpegDecoder() (*FFmpegDecoder, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	// Batch decodes run at low priority when nice is available
	nicePath, _ := exec.LookPath("nice")

	return &FFmpegDecoder{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		nicePath:    nicePath,
	}, nil
}

// pcmArgs builds the ffmpeg arguments for s16le output
func pcmArgs(path string, sampleRate, channels int) []string {
	return []string{
		"-v", "error",
		"-i", path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", strconv.Itoa(channels),
		"-ar", strconv.Itoa(sampleRate),
		"-",
	}
}

// Decode streams a file as PCM into output at the output's format
func (d *FFmpegDecoder) Decode(ctx context.Context, path string, output Output) error {
	cmd := exec.CommandContext(ctx, d.ffmpegPath, pcmArgs(path, output.SampleRate(), output.Channels())...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	// Kill and reap the process on early returns
	waited := false
	defer func() {
		if !waited && cmd.Process != nil {
			cmd.Process.Kill()
			cmd.Wait()
		}
	}()

	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := stdout.Read(buf)
		if n > 0 {
			if _, writeErr := output.Write(buf[:n]); writeErr != nil {
				return fmt.Errorf("failed to write to output: %w", writeErr)
			}
		}
		if err != nil {
			break
		}
	}

	waited = true
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ffmpegError(err, &stderr)
	}
	return nil
}

// DecodePCM decodes a whole file (up to maxBytes) into interleaved s16le PCM.
// Reaching maxBytes stops ffmpeg early and is not an error.
func (d *FFmpegDecoder) DecodePCM(ctx context.Context, path string, sampleRate, channels int, maxBytes int64) ([]byte, error) {
	args := pcmArgs(path, sampleRate, channels)

	var cmd *exec.Cmd
	if d.nicePath != "" {
		cmd = exec.CommandContext(ctx, d.nicePath, append([]string{"-n", "19", d.ffmpegPath}, args...)...)
	} else {
		cmd = exec.CommandContext(ctx, d.ffmpegPath, args...)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	waited := false
	defer func() {
		if !waited && cmd.Process != nil {
			cmd.Process.Kill()
			cmd.Wait()
		}
	}()

	var buf bytes.Buffer
	buf.Grow(1024 * 1024)
	if _, err := io.Copy(&buf, io.LimitReader(stdout, maxBytes)); err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}

	if int64(buf.Len()) >= maxBytes {
		// Truncated on purpose; the deferred kill ends ffmpeg
		return buf.Bytes(), nil
	}

	waited = true
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ffmpegError(err, &stderr)
	}

	return buf.Bytes(), nil
}

// ffmpegError adds ffmpeg's own diagnostics to an exit error
func ffmpegError(err error, stderr *bytes.Buffer) error {
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		return fmt.Errorf("ffmpeg failed: %w: %s", err, msg)
	}
	return fmt.Errorf("ffmpeg failed: %w", err)
}

// Duration returns the duration of an audio file
func (d *FFmpegDecoder) Duration(path string) (time.Duration, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	output, err := exec.Command(d.ffprobePath, args...).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	durationSec, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration: %w", err)
	}

	return time.Duration(durationSec * float64(time.Second)), nil
}
