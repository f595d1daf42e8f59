// Package prompts stores the prompt templates of each document type.
// Defaults are embedded in the binary; a directory may override them.
package prompts

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/classnotes/teaching-assistant/internal/domain/document"
	"github.com/classnotes/teaching-assistant/internal/domain/shared"
)

//go:embed templates/*.tmpl
var defaults embed.FS

// Extension of template files.
const Extension = ".tmpl"

// Store loads templates by document type. Templates are read on every Load
// so edits to an override directory apply without a restart.
type Store struct {
	dir      string
	fallback fs.FS
}

// NewStore returns a store that reads dir first and falls back to the
// embedded defaults. An empty dir uses the defaults only.
func NewStore(dir string) *Store {
	sub, _ := fs.Sub(defaults, "templates")
	return &Store{dir: dir, fallback: sub}
}

// NewDirStore returns a store that reads dir only.
func NewDirStore(dir string) *Store {
	return &Store{dir: dir}
}

// Load returns the template text of t.
func (s *Store) Load(t document.Type) (string, error) {
	name := string(t) + Extension

	if s.dir != "" {
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		switch {
		case err == nil:
			return string(data), nil
		case !errors.Is(err, fs.ErrNotExist):
			return "", shared.WrapError("prompts", "Load", shared.ErrTemplate,
				fmt.Sprintf("cannot read template %q", name), err)
		}
	}

	if s.fallback != nil {
		data, err := fs.ReadFile(s.fallback, name)
		if err == nil {
			return string(data), nil
		}
	}

	return "", shared.NewDomainError("prompts", "Load", shared.ErrTemplate,
		fmt.Sprintf("template %q not found", name))
}

// Names lists the document types that have a template available.
func (s *Store) Names() []document.Type {
	var out []document.Type
	for _, t := range document.Types {
		if _, err := s.Load(t); err == nil {
			out = append(out, t)
		}
	}
	return out
}
