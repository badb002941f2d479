package config

import (
	"errors"
	"sync"
)

// Pointer persists the id of the chat session that new questions go to.
// It lives outside the chat database.
type Pointer interface {
	// Load returns the current session id, or ok=false when none is set.
	Load() (id int64, ok bool, err error)
	Save(id int64) error
	Clear() error
}

// FilePointer stores the pointer as current_chat_id in config.toml.
type FilePointer struct {
	path string
}

// NewFilePointer returns a Pointer backed by the config file at path.
func NewFilePointer(path string) *FilePointer {
	return &FilePointer{path: path}
}

// Load reports no pointer when config.toml does not exist yet.
func (p *FilePointer) Load() (int64, bool, error) {
	cfg, err := LoadFile(p.path)
	if errors.Is(err, ErrConfigMissing) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if cfg.CurrentChatID == nil {
		return 0, false, nil
	}
	return *cfg.CurrentChatID, true, nil
}

func (p *FilePointer) Save(id int64) error {
	return p.update(&id)
}

func (p *FilePointer) Clear() error {
	return p.update(nil)
}

// update rewrites current_chat_id, creating config.toml if needed.
func (p *FilePointer) update(id *int64) error {
	cfg, err := LoadFile(p.path)
	if errors.Is(err, ErrConfigMissing) {
		cfg, err = &Config{}, nil
	}
	if err != nil {
		return err
	}
	cfg.CurrentChatID = id
	return SaveFile(cfg, p.path)
}

// MemoryPointer keeps the pointer in process memory.
type MemoryPointer struct {
	mu  sync.Mutex
	id  int64
	set bool
}

func (p *MemoryPointer) Load() (int64, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id, p.set, nil
}

func (p *MemoryPointer) Save(id int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.id, p.set = id, true
	return nil
}

func (p *MemoryPointer) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.id, p.set = 0, false
	return nil
}
