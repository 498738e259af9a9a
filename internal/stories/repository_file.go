package stories

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileRepository is a MemoryRepository whose state is written to a JSON
// file after every mutation.
type FileRepository struct {
	*MemoryRepository
	path string
}

func NewFileRepository(path string) (*FileRepository, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("story state file path is required")
	}

	f := &FileRepository{
		MemoryRepository: NewMemoryRepository(),
		path:             path,
	}
	if err := f.load(); err != nil {
		return nil, err
	}
	f.persist = f.save
	return f, nil
}

func (f *FileRepository) load() error {
	b, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read story state: %w", err)
	}
	if len(b) == 0 {
		return nil
	}

	state := make(map[string][]Story)
	if err := json.Unmarshal(b, &state); err != nil {
		return fmt.Errorf("decode story state: %w", err)
	}
	for owner, owned := range state {
		for i := range owned {
			owned[i].Owner = owner
		}
	}
	f.stories = state
	return nil
}

func (f *FileRepository) save(state map[string][]Story) error {
	b, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode story state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("mkdir story state dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write story state: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace story state: %w", err)
	}
	return nil
}
