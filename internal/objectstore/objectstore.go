// Package objectstore stores submission media under
// {prefix}/{submission_id}/inputs/{filename}.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

var ErrUnexpectedStatus = errors.New("object store returned an unexpected status")

type Object struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

type PutInput struct {
	Key         string
	Body        io.ReadSeeker
	Size        int64
	ContentType string
	Metadata    map[string]string
}

// Store is the subset of blob storage the service relies on.
type Store interface {
	Put(ctx context.Context, in PutInput) error
	Delete(ctx context.Context, keys []string) error
	List(ctx context.Context, prefix string) ([]Object, error)
}

// Error carries the operation, key and provider details of a failed call.
type Error struct {
	Op         string
	Key        string
	Code       string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Key != "" {
		b.WriteString(" ")
		b.WriteString(e.Key)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " (%s)", e.Code)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " status %d", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// InputsPrefix returns "{prefix}/{submissionID}/inputs/". An empty prefix is omitted.
func InputsPrefix(prefix, submissionID string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return submissionID + "/inputs/"
	}
	return prefix + "/" + submissionID + "/inputs/"
}

func InputKey(prefix, submissionID, filename string) string {
	return InputsPrefix(prefix, submissionID) + filename
}

// ParseInputKey splits an input key back into its submission id and filename.
func ParseInputKey(prefix, key string) (submissionID, filename string, ok bool) {
	prefix = strings.Trim(prefix, "/")
	rest := key
	if prefix != "" {
		if !strings.HasPrefix(key, prefix+"/") {
			return "", "", false
		}
		rest = strings.TrimPrefix(key, prefix+"/")
	}
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] != "inputs" || parts[2] == "" {
		return "", "", false
	}
	return parts[0], parts[2], true
}

// ValidFilename rejects names that would escape or reshape the input prefix.
func ValidFilename(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return false
	}
	return path.Clean(name) == name
}
