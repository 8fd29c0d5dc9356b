package fileutil

import (
	"os"
	"path/filepath"

	"github.com/arkinul/tuebingen-search/pkg/failure"
)

// EnsureDir checks whether dir joined with the given path segments exists,
// creating it (and any parents) if not. Used to make sure a store's
// database file has somewhere to live before sql.Open is called.
func EnsureDir(dir string, path ...string) failure.ClassifiedError {
	targetPath := append([]string{dir}, path...)
	fullPath := filepath.Join(targetPath...)
	if err := os.MkdirAll(fullPath, 0755); err != nil {
		return &FileError{Message: "create directory " + fullPath, Err: err}
	}
	return nil
}
