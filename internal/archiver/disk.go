package archiver

import (
	"io"
	"os"
	"path/filepath"

	"github.com/streamhouse/broker/internal/brokererr"
)

// DiskArchiver copies sealed segment files into a root directory,
// preserving each file's base-relative path. It never moves the source
// file: the partition sweeper deletes the original separately once
// IsArchived confirms the copy landed (spec §4.3 Retention policy).
type DiskArchiver struct {
	rootPath string
}

// NewDiskArchiver constructs a DiskArchiver rooted at rootPath.
func NewDiskArchiver(rootPath string) *DiskArchiver {
	return &DiskArchiver{rootPath: rootPath}
}

// Init creates the archiver's root directory if it does not exist.
func (a *DiskArchiver) Init() error {
	if _, err := os.Stat(a.rootPath); os.IsNotExist(err) {
		if err := os.MkdirAll(a.rootPath, 0755); err != nil {
			return brokererr.Wrap(brokererr.KindArchiverFailed, err, "create disk archiver directory")
		}
	}
	return nil
}

// IsArchived reports whether file already exists under baseDir in the
// archiver's root.
func (a *DiskArchiver) IsArchived(file string, baseDir string) (bool, error) {
	path := filepath.Join(a.rootPath, baseDir, file)
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, brokererr.Wrap(brokererr.KindArchiverFailed, err, "stat archived file")
}

// Archive copies every file in files to <root>/<baseDir>/<file>, failing
// fatally (FileToArchiveNotFound) if a source file is missing.
func (a *DiskArchiver) Archive(files []string, baseDir string) error {
	for _, file := range files {
		if _, err := os.Stat(file); os.IsNotExist(err) {
			return brokererr.New(brokererr.KindFileToArchiveNotFound)
		}

		destination := filepath.Join(a.rootPath, baseDir, file)
		if err := os.MkdirAll(filepath.Dir(destination), 0755); err != nil {
			return brokererr.Wrap(brokererr.KindArchiverFailed, err, "create destination directory")
		}
		if err := copyFile(file, destination); err != nil {
			return brokererr.Wrap(brokererr.KindArchiverFailed, err, "copy file to archive")
		}
	}
	return nil
}

func copyFile(source, destination string) error {
	src, err := os.Open(source)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(destination)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}
