package rotation

import (
	"path/filepath"

	"github.com/kalambet/autopost/internal/atomicfile"
)

// FileStore persists rotation state as JSON in a single file.
type FileStore struct {
	path string
}

// NewFileStore returns a store writing rotation.json inside dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{path: filepath.Join(dir, "rotation.json")}
}

// Path returns the backing file location.
func (f *FileStore) Path() string { return f.path }

func (f *FileStore) Load() (State, bool, error) {
	var s State
	ok, err := atomicfile.ReadJSON(f.path, &s)
	return s, ok, err
}

func (f *FileStore) Save(s State) error {
	return atomicfile.WriteJSON(f.path, s)
}
