package objectstore

import (
	"bytes"
	"context"
	"crypto/md5" // #nosec G501 -- etag, not security
	"encoding/hex"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory keeps objects in process memory. It backs local development when no
// bucket is configured and stands in for S3 in tests.
type Memory struct {
	mu      sync.Mutex
	objects map[string]memoryObject

	// FailPut, when set, is consulted before each put; a non-nil error fails it.
	FailPut func(key string) error
	// FailList, when set, fails every listing.
	FailList error
}

type memoryObject struct {
	data     []byte
	metadata map[string]string
	modified time.Time
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memoryObject)}
}

func (m *Memory) Put(ctx context.Context, in PutInput) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.FailPut != nil {
		if err := m.FailPut(in.Key); err != nil {
			return &Error{Op: "put", Key: in.Key, Err: err}
		}
	}
	var data []byte
	if in.Body != nil {
		b, err := io.ReadAll(in.Body)
		if err != nil {
			return &Error{Op: "put", Key: in.Key, Err: err}
		}
		data = b
	}
	meta := make(map[string]string, len(in.Metadata))
	for k, v := range in.Metadata {
		meta[k] = v
	}
	m.mu.Lock()
	m.objects[in.Key] = memoryObject{data: data, metadata: meta, modified: time.Now().UTC()}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(ctx context.Context, keys []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	for _, k := range keys {
		delete(m.objects, k)
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) List(ctx context.Context, prefix string) ([]Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.FailList != nil {
		return nil, &Error{Op: "list", Key: prefix, Err: m.FailList}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Object
	for k, obj := range m.objects {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		sum := md5.Sum(obj.data) // #nosec G401
		out = append(out, Object{
			Key:          k,
			Size:         int64(len(obj.data)),
			ETag:         hex.EncodeToString(sum[:]),
			LastModified: obj.modified,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Get returns a copy of the stored bytes and metadata.
func (m *Memory) Get(key string) ([]byte, map[string]string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, nil, false
	}
	return bytes.Clone(obj.data), obj.metadata, true
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
