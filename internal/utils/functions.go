package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

func GetRandomUserAgent() string {
	return userAgents[time.Now().UnixNano()%int64(len(userAgents))]
}

func RenewOutputPath(outputPath string) string {
	dir := filepath.Dir(outputPath)
	base := filepath.Base(outputPath)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	index := 1
	for {
		outputPath = filepath.Join(dir, fmt.Sprintf("%s-(%d)%s", name, index, ext))
		if _, err := os.Stat(outputPath); os.IsNotExist(err) {
			return outputPath
		}
		index++
	}
}

func ParseHeaderArgs(headers []string) map[string]string {
	result := make(map[string]string)
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			result[key] = value
		}
	}
	return result
}

func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// SafeFileName replaces characters that cannot appear in a file name on the
// current platform.
func SafeFileName(name string) string {
	return safeFileName(name, isWindows)
}

func safeFileName(name string, windows bool) string {
	if !windows {
		return strings.ReplaceAll(name, "/", "_")
	}
	var b strings.Builder
	for _, r := range name {
		if repl, ok := windowsFileNameChars[r]; ok {
			b.WriteString(repl)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// FileExists reports whether path is a regular file with content.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir() && info.Size() > 0
}

// WriteFileAtomic writes data next to path and renames it into place, so an
// interrupted write never leaves a partial file under the final name.
func WriteFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating directory: %v", err)
	}
	partPath := path + ".part"
	if err := os.WriteFile(partPath, data, 0644); err != nil {
		return fmt.Errorf("error writing file: %v", err)
	}
	if err := os.Rename(partPath, path); err != nil {
		os.Remove(partPath)
		return fmt.Errorf("error renaming (finalizing) file: %v", err)
	}
	return nil
}

// TempDirFor returns the job temp directory used for outputPath under tempRoot.
func TempDirFor(tempRoot, outputPath string) (string, error) {
	base := filepath.Base(outputPath)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Abs(filepath.Join(tempRoot, name))
}

func Clean(tempRoot, outputPath string) error {
	tempDir, err := TempDirFor(tempRoot, SafeFileName(filepath.Base(outputPath)))
	if err != nil {
		return err
	}
	if _, err := os.Stat(tempDir); os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return err
	}
	return os.RemoveAll(tempDir)
}
