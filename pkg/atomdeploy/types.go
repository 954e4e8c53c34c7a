package atomdeploy

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// TransferSpec describes one copy of a tree from one Filesystem to another.
// It is built from configuration and never mutated while a transfer runs.
type TransferSpec struct {
	Source          Filesystem
	SourcePath      string
	Destination     Filesystem
	DestinationPath string

	// FilterPatterns are regular expressions matched against "/relative/path"
	// (directories end with "/"). An entry matches when any pattern matches.
	FilterPatterns []string

	// FilterInverse excludes matching entries instead of including only them.
	FilterInverse bool

	// Recursive walks into subdirectories.
	Recursive bool

	OverwriteFiles               bool
	OverwriteEmptyDirectories    bool
	OverwriteNonEmptyDirectories bool
}

// Validate checks if the TransferSpec has all required fields.
// It returns a multi-error if multiple validation failures occur.
func (s *TransferSpec) Validate() error {
	var errs []error

	if s.Source == nil {
		errs = append(errs, &ConfigurationError{Field: "source", Reason: "filesystem is required"})
	}
	if s.Destination == nil {
		errs = append(errs, &ConfigurationError{Field: "destination", Reason: "filesystem is required"})
	}
	if _, err := NormalizePath(s.SourcePath); err != nil {
		errs = append(errs, &ConfigurationError{Field: "source_path", Reason: err.Error()})
	}
	if _, err := NormalizePath(s.DestinationPath); err != nil {
		errs = append(errs, &ConfigurationError{Field: "destination_path", Reason: err.Error()})
	}

	return errors.Join(errs...)
}

// Progress is a snapshot of transfer counters.
type Progress struct {
	FilesTransferred int
	FilesTotal       int
	BytesTransferred int64
	BytesTotal       int64
}

// Done reports whether every counter reached its total.
func (p Progress) Done() bool {
	return p.FilesTransferred == p.FilesTotal && p.BytesTransferred == p.BytesTotal
}

// Fraction returns the weighted completion in [0, 1]. It is exactly 1 only
// when Done, and never exceeds ProgressCeiling otherwise.
func (p Progress) Fraction() float64 {
	var w float64
	switch {
	case p.FilesTotal > 0 && p.BytesTotal > 0:
		w = ProgressFileWeight*float64(p.FilesTransferred)/float64(p.FilesTotal) +
			ProgressByteWeight*float64(p.BytesTransferred)/float64(p.BytesTotal)
	case p.FilesTotal > 0:
		w = float64(p.FilesTransferred) / float64(p.FilesTotal)
	case p.BytesTotal > 0:
		w = float64(p.BytesTransferred) / float64(p.BytesTotal)
	default:
		w = 1
	}

	if p.Done() {
		return 1
	}
	if w > ProgressCeiling {
		return ProgressCeiling
	}
	return w
}

// ProgressFunc receives a snapshot after every transferred entry.
type ProgressFunc func(Progress)

// Keep is a retention count that is either unbounded or a fixed number.
// The zero value keeps nothing.
type Keep struct {
	all   bool
	count int
}

// KeepAll retains every deployment of a class.
func KeepAll() Keep { return Keep{all: true} }

// KeepCount retains the n most recent deployments of a class.
func KeepCount(n int) Keep { return Keep{count: n} }

// All reports whether every deployment is retained.
func (k Keep) All() bool { return k.all }

// Count returns the retained count; meaningless when All is true.
func (k Keep) Count() int { return k.count }

func (k Keep) String() string {
	if k.all {
		return "all"
	}
	return strconv.Itoa(k.count)
}

// ParseKeep accepts "all"/"true" (keep all), "false"/"none" (keep none) or a non-negative integer.
func ParseKeep(s string) (Keep, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "all", "true", "":
		return KeepAll(), nil
	case "false", "none":
		return KeepCount(0), nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return Keep{}, fmt.Errorf("keep value %q is neither \"all\" nor an integer: %w", s, ErrInvalidConfig)
	}
	if n < 0 {
		return Keep{}, fmt.Errorf("keep value %d is negative: %w", n, ErrInvalidConfig)
	}
	return KeepCount(n), nil
}

// MarshalText renders Keep the way ParseKeep reads it.
func (k Keep) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Keep) UnmarshalText(text []byte) error {
	parsed, err := ParseKeep(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// RetentionPolicy decides how many old deployments survive a cleanup.
type RetentionPolicy struct {
	Successful Keep
	Failed     Keep
}

// KeepEverything reports whether cleanup has nothing to remove.
func (p RetentionPolicy) KeepEverything() bool {
	return p.Successful.All() && p.Failed.All()
}
