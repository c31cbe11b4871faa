// Package scanner provides library scanning functionality.
// It walks directories and finds audio files for batch classification.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// SupportedExtensions are the audio file extensions we recognize
var SupportedExtensions = map[string]bool{
	".mp3":  true,
	".flac": true,
	".m4a":  true,
	".aac":  true,
	".ogg":  true,
	".wav":  true,
	".wma":  true,
	".alac": true,
	".opus": true,
}

// FileInfo represents basic info about an audio file
type FileInfo struct {
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	ModifiedAt int64  `json:"modifiedAt"` // Unix timestamp
}

// ScanResult is the result of scanning one root
type ScanResult struct {
	Root       string     `json:"root"`
	Files      []FileInfo `json:"files"`
	ScanTimeMs int64      `json:"scanTimeMs"`
	Error      string     `json:"error,omitempty"`
}

// IsAudioFile reports whether path has a supported extension
func IsAudioFile(path string) bool {
	return SupportedExtensions[strings.ToLower(filepath.Ext(path))]
}

// Scan walks each root and collects audio files. A root that is a single
// audio file is returned as-is. Hidden directories are skipped.
func Scan(ctx context.Context, roots []string) []ScanResult {
	results := make([]ScanResult, 0, len(roots))
	for _, root := range roots {
		if ctx.Err() != nil {
			break
		}
		results = append(results, scanRoot(ctx, root))
	}
	return results
}

// Paths flattens scan results into a sorted, de-duplicated path list
func Paths(results []ScanResult) []string {
	seen := make(map[string]bool)
	var paths []string
	for _, r := range results {
		for _, f := range r.Files {
			if !seen[f.Path] {
				seen[f.Path] = true
				paths = append(paths, f.Path)
			}
		}
	}
	sort.Strings(paths)
	return paths
}

func scanRoot(ctx context.Context, root string) ScanResult {
	start := time.Now()
	result := ScanResult{Root: root, Files: []FileInfo{}}

	info, err := os.Stat(root)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	if !info.IsDir() {
		if IsAudioFile(root) {
			result.Files = append(result.Files, FileInfo{
				Path:       root,
				Size:       info.Size(),
				ModifiedAt: info.ModTime().Unix(),
			})
		} else {
			result.Error = fmt.Sprintf("not an audio file: %s", root)
		}
		return result
	}

	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // Skip files we can't access
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}

		if !IsAudioFile(path) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return nil
		}

		result.Files = append(result.Files, FileInfo{
			Path:       path,
			Size:       fi.Size(),
			ModifiedAt: fi.ModTime().Unix(),
		})
		return nil
	})

	if err != nil && !errors.Is(err, context.Canceled) {
		result.Error = err.Error()
	}

	result.ScanTimeMs = time.Since(start).Milliseconds()
	log.Printf("[SCANNER] Found %d audio files in %dms under %s", len(result.Files), result.ScanTimeMs, root)

	return result
}
