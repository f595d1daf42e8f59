// Package storage writes generated documents to the local filesystem.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/classnotes/teaching-assistant/internal/domain/shared"
)

// maxSuffix bounds the disambiguating suffixes tried for one filename.
const maxSuffix = 1000

// OutputStore writes documents under a root directory. Files are created
// exclusively; an existing name gets a _2, _3, ... suffix before the
// extension, so two writes in the same second never overwrite each other.
type OutputStore struct {
	root string
	perm fs.FileMode
}

// NewOutputStore creates a store rooted at root. The root is created on
// first write.
func NewOutputStore(root string) *OutputStore {
	return &OutputStore{root: root, perm: 0o644}
}

// Root returns the output directory.
func (s *OutputStore) Root() string {
	return s.root
}

// Write stores content as folder/filename and returns the path written.
func (s *OutputStore) Write(folder, filename, content string) (string, error) {
	if filename == "" || strings.ContainsAny(filename, `/\`) {
		return "", shared.NewDomainError("storage", "Write", shared.ErrInvalidInput,
			fmt.Sprintf("invalid filename %q", filename))
	}

	dir := filepath.Join(s.root, folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", shared.WrapError("storage", "Write", shared.ErrGenericFailure,
			"cannot create output directory", err)
	}

	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	for n := 1; n <= maxSuffix; n++ {
		name := filename
		if n > 1 {
			name = fmt.Sprintf("%s_%d%s", base, n, ext)
		}
		path := filepath.Join(dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, s.perm)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", shared.WrapError("storage", "Write", shared.ErrGenericFailure,
				"cannot create output file", err)
		}

		_, werr := f.WriteString(content)
		cerr := f.Close()
		if err := errors.Join(werr, cerr); err != nil {
			_ = os.Remove(path)
			return "", shared.WrapError("storage", "Write", shared.ErrGenericFailure,
				"cannot write output file", err)
		}
		return path, nil
	}

	return "", shared.NewDomainError("storage", "Write", shared.ErrGenericFailure,
		fmt.Sprintf("too many files named %q", filename))
}
