package writer

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// FileRegistry shares one open sink per output path between keyout writers. A sink is
// closed when its last user releases it.
type FileRegistry struct {
	mu    sync.Mutex
	files map[string]*sharedFile
}

type sharedFile struct {
	sink  zapcore.WriteSyncer
	close func()
	refs  int
}

func NewFileRegistry() *FileRegistry {
	return &FileRegistry{files: make(map[string]*sharedFile)}
}

// Acquire opens path on first use and returns the shared, locked sink.
func (r *FileRegistry) Acquire(path string) (zapcore.WriteSyncer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := r.files[path]; ok {
		f.refs++
		return f.sink, nil
	}
	sink, closeFn, err := zap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	f := &sharedFile{sink: zapcore.Lock(sink), close: closeFn, refs: 1}
	r.files[path] = f
	return f.sink, nil
}

// Release syncs the sink and closes it when no writer uses it any more.
func (r *FileRegistry) Release(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.files[path]
	if !ok {
		return nil
	}
	err := f.sink.Sync()
	f.refs--
	if f.refs == 0 {
		f.close()
		delete(r.files, path)
	}
	return err
}

// Close syncs and closes every open sink.
func (r *FileRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	for path, f := range r.files {
		err = multierr.Append(err, f.sink.Sync())
		f.close()
		delete(r.files, path)
	}
	return err
}

// Open reports the number of open sinks.
func (r *FileRegistry) Open() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.files)
}
