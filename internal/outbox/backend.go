package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/sma-attendance-sync/internal/models"
)

// DefaultKey is the namespace the outbox blob is stored under.
const DefaultKey = "attendance_outbox_v1"

// Backend persists the whole outbox as one JSON array.
type Backend interface {
	Load(ctx context.Context) ([]models.AttendanceBatch, error)
	Save(ctx context.Context, batches []models.AttendanceBatch) error
	Name() string
}

func decode(raw []byte) ([]models.AttendanceBatch, error) {
	if len(raw) == 0 {
		return []models.AttendanceBatch{}, nil
	}
	var batches []models.AttendanceBatch
	if err := json.Unmarshal(raw, &batches); err != nil {
		return nil, fmt.Errorf("decode outbox: %w", err)
	}
	if batches == nil {
		batches = []models.AttendanceBatch{}
	}
	return batches, nil
}

func encode(batches []models.AttendanceBatch) ([]byte, error) {
	if batches == nil {
		batches = []models.AttendanceBatch{}
	}
	return json.Marshal(batches)
}

// FileBackend keeps the blob in a JSON file, replaced atomically on save.
type FileBackend struct {
	path string
}

// NewFileBackend returns a backend writing to path.
func NewFileBackend(path string) *FileBackend {
	if path == "" {
		path = DefaultKey + ".json"
	}
	return &FileBackend{path: path}
}

// Name implements Backend.
func (b *FileBackend) Name() string { return "file" }

// Path returns the file location.
func (b *FileBackend) Path() string { return b.path }

// Load implements Backend. A missing file is an empty outbox.
func (b *FileBackend) Load(ctx context.Context) ([]models.AttendanceBatch, error) {
	raw, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []models.AttendanceBatch{}, nil
		}
		return nil, fmt.Errorf("read outbox file: %w", err)
	}
	return decode(raw)
}

// Save implements Backend.
func (b *FileBackend) Save(ctx context.Context, batches []models.AttendanceBatch) error {
	raw, err := encode(batches)
	if err != nil {
		return err
	}
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create outbox dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create outbox temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write outbox temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync outbox temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close outbox temp file: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		cleanup()
		return fmt.Errorf("replace outbox file: %w", err)
	}
	return nil
}

// RedisBackend keeps the blob under a single Redis key without expiry.
type RedisBackend struct {
	client *redis.Client
	key    string
}

// NewRedisBackend returns a backend storing the blob at key.
func NewRedisBackend(client *redis.Client, key string) *RedisBackend {
	if key == "" {
		key = DefaultKey
	}
	return &RedisBackend{client: client, key: key}
}

// Name implements Backend.
func (b *RedisBackend) Name() string { return "redis" }

// Load implements Backend.
func (b *RedisBackend) Load(ctx context.Context) ([]models.AttendanceBatch, error) {
	if b.client == nil {
		return nil, errors.New("redis client not configured")
	}
	raw, err := b.client.Get(ctx, b.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []models.AttendanceBatch{}, nil
		}
		return nil, fmt.Errorf("read outbox key: %w", err)
	}
	return decode(raw)
}

// Save implements Backend.
func (b *RedisBackend) Save(ctx context.Context, batches []models.AttendanceBatch) error {
	if b.client == nil {
		return errors.New("redis client not configured")
	}
	raw, err := encode(batches)
	if err != nil {
		return err
	}
	if err := b.client.Set(ctx, b.key, raw, 0).Err(); err != nil {
		return fmt.Errorf("write outbox key: %w", err)
	}
	return nil
}

// MemoryBackend keeps the encoded blob in memory. Reopening a store on the
// same backend behaves like a restart; nothing survives the process.
type MemoryBackend struct {
	mu   sync.Mutex
	raw  []byte
	fail error
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Name implements Backend.
func (b *MemoryBackend) Name() string { return "memory" }

// FailWith makes subsequent loads and saves return err; nil restores normal operation.
func (b *MemoryBackend) FailWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = err
}

// Load implements Backend.
func (b *MemoryBackend) Load(ctx context.Context) ([]models.AttendanceBatch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return nil, b.fail
	}
	return decode(b.raw)
}

// Save implements Backend.
func (b *MemoryBackend) Save(ctx context.Context, batches []models.AttendanceBatch) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	raw, err := encode(batches)
	if err != nil {
		return err
	}
	b.raw = raw
	return nil
}
