package fileutil

import (
	"fmt"

	"github.com/arkinul/tuebingen-search/pkg/failure"
)

type FileError struct {
	Message string
	Err     error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("fileutil: %s: %v", e.Message, e.Err)
}

func (e *FileError) Severity() failure.Severity { return failure.SeverityFatal }
func (e *FileError) Cause() failure.Cause        { return failure.CauseStorage }
func (e *FileError) Unwrap() error               { return e.Err }
