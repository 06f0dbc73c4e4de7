package probe

import (
	"errors"
	"fmt"
	"strings"
)

// Tag classifies an error returned by a check. The set is closed; a Probe is
// configured with the subset it treats as retryable.
type Tag string

const (
	TagUnavailable Tag = "unavailable" // nothing listening, connection refused
	TagTimeout     Tag = "timeout"     // a single I/O operation timed out
	TagNotFound    Tag = "not_found"
	TagNotReady    Tag = "not_ready" // resource exists but is not in the wanted state yet
	TagTemporary   Tag = "temporary"
	TagPermission  Tag = "permission"
	TagInvalid     Tag = "invalid" // bad input; retrying will not help
	TagCrashed     Tag = "crashed" // the check panicked or its process died
	TagInternal    Tag = "internal"
)

var allTags = []Tag{
	TagUnavailable, TagTimeout, TagNotFound, TagNotReady, TagTemporary,
	TagPermission, TagInvalid, TagCrashed, TagInternal,
}

// Tags returns every known tag.
func Tags() []Tag {
	out := make([]Tag, len(allTags))
	copy(out, allTags)
	return out
}

// ParseTag accepts a tag name, case-insensitively. "-" may be used in place of "_".
func ParseTag(s string) (Tag, error) {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for _, t := range allTags {
		if string(t) == name {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown error tag %q", s)
}

// ParseTags parses a comma separated list such as "unavailable,timeout".
// Empty items are skipped.
func ParseTags(s string) ([]Tag, error) {
	var out []Tag
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		t, err := ParseTag(part)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// CheckError is an error produced by a check together with its tag.
type CheckError struct {
	Tag Tag
	Err error
}

func (e *CheckError) Error() string {
	if e.Err == nil {
		return string(e.Tag)
	}
	return string(e.Tag) + ": " + e.Err.Error()
}

func (e *CheckError) Unwrap() error { return e.Err }

// Errorf builds a tagged error.
func Errorf(tag Tag, format string, args ...any) error {
	return &CheckError{Tag: tag, Err: fmt.Errorf(format, args...)}
}

// Tagged attaches tag to err. A nil err stays nil.
func Tagged(tag Tag, err error) error {
	if err == nil {
		return nil
	}
	return &CheckError{Tag: tag, Err: err}
}

// TagOf returns the tag of the outermost CheckError in err's chain, or ""
// for untagged errors.
func TagOf(err error) Tag {
	var ce *CheckError
	if errors.As(err, &ce) {
		return ce.Tag
	}
	return ""
}
