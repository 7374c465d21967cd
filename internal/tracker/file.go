package tracker

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"lifestory/internal/config"
	"lifestory/internal/services"
)

// File is an upload candidate on local disk.
type File struct {
	Name string
	Size int64
	Path string
}

// FileFromPath stats path and returns the matching File.
func FileFromPath(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, services.Wrap(services.ErrValidation, "tracker", "stat file", "cannot read upload file", err)
	}
	if info.IsDir() {
		return File{}, services.Wrap(services.ErrValidation, "tracker", "stat file", fmt.Sprintf("%s is a directory", path), nil)
	}
	return File{Name: filepath.Base(path), Size: info.Size(), Path: path}, nil
}

// FileErrorKind classifies a local file rejection.
type FileErrorKind string

const (
	FileUnsupportedType FileErrorKind = "unsupported_type"
	FileTooLarge        FileErrorKind = "too_large"
	FileEmpty           FileErrorKind = "empty"
)

// FileError is a local validation failure raised before any network call.
type FileError struct {
	Kind    FileErrorKind
	Name    string
	Size    int64
	Limit   int64
	Allowed []string
}

func (e *FileError) Error() string {
	switch e.Kind {
	case FileUnsupportedType:
		return fmt.Sprintf("%s: unsupported file type (allowed: %s)", e.Name, strings.Join(e.Allowed, ", "))
	case FileTooLarge:
		return fmt.Sprintf("%s: file is %d MB, limit is %d MB", e.Name, megabytes(e.Size), megabytes(e.Limit))
	case FileEmpty:
		return fmt.Sprintf("%s: file is empty", e.Name)
	default:
		return fmt.Sprintf("%s: invalid file", e.Name)
	}
}

func (e *FileError) Unwrap() error { return services.ErrValidation }

func megabytes(n int64) int64 {
	return (n + (1<<20 - 1)) >> 20
}

// Limits holds the upload allow-list and size cap.
type Limits struct {
	MaxBytes   int64
	Extensions []string
}

// LimitsFromConfig reads upload limits from cfg.
func LimitsFromConfig(cfg *config.Config) Limits {
	return Limits{MaxBytes: cfg.MaxUploadBytes(), Extensions: cfg.Upload.AllowedExtensions}
}

// DefaultLimits returns the stock allow-list and 100 MB cap.
func DefaultLimits() Limits {
	return Limits{MaxBytes: 100 << 20, Extensions: config.DefaultAllowedExtensions}
}

// ValidateFile checks an upload candidate's extension and size.
func (l Limits) ValidateFile(name string, size int64) error {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	allowed := l.Extensions
	if len(allowed) == 0 {
		allowed = config.DefaultAllowedExtensions
	}
	if ext == "" || !slices.Contains(allowed, ext) {
		return &FileError{Kind: FileUnsupportedType, Name: name, Size: size, Allowed: allowed}
	}
	if size <= 0 {
		return &FileError{Kind: FileEmpty, Name: name}
	}
	if l.MaxBytes > 0 && size > l.MaxBytes {
		return &FileError{Kind: FileTooLarge, Name: name, Size: size, Limit: l.MaxBytes}
	}
	return nil
}

// OptionsFromConfig builds tracker options from the [upload] config section.
func OptionsFromConfig(cfg *config.Config, mode Mode, logger *slog.Logger) Options {
	return Options{
		Mode:          mode,
		Limits:        LimitsFromConfig(cfg),
		CompleteDelay: cfg.CompleteDelay(),
		ErrorDelay:    cfg.ErrorDelay(),
		Timeout:       cfg.TrackingTimeout(),
		Logger:        logger,
	}
}
