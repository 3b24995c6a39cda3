package transfer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/multierr"

	"github.com/cohenjo/migration-stream/pkg/config"
)

// PasswordConfigFileError is returned when a password config file cannot be written
type PasswordConfigFileError struct {
	DB  string
	Err error
}

func (e *PasswordConfigFileError) Error() string {
	return fmt.Sprintf("failed to create password config file for db %q: %v", e.DB, e.Err)
}

func (e *PasswordConfigFileError) Unwrap() error {
	return e.Err
}

// PasswordConfigDir is where password config files are written under the migration root
func PasswordConfigDir(rootPath string) string {
	return filepath.Join(rootPath, "password_config")
}

// PasswordConfigFiles owns the mongo tools config files holding endpoint
// passwords, so they never appear on a command line. Files are readable by
// the owner only.
type PasswordConfigFiles struct {
	dir string

	mu    sync.Mutex
	files []string

	SourceConfigPath      string
	DestinationConfigPath string
}

// NewPasswordConfigFiles creates an empty set rooted at rootPath
func NewPasswordConfigFiles(rootPath string) *PasswordConfigFiles {
	return &PasswordConfigFiles{dir: PasswordConfigDir(rootPath)}
}

// Generate writes a config file for db holding password and returns its path
func (p *PasswordConfigFiles) Generate(db, password string) (string, error) {
	if err := os.MkdirAll(p.dir, 0o700); err != nil {
		return "", &PasswordConfigFileError{DB: db, Err: err}
	}

	file, err := os.CreateTemp(p.dir, db+"*.config")
	if err != nil {
		return "", &PasswordConfigFileError{DB: db, Err: err}
	}
	path := file.Name()

	err = file.Chmod(0o600)
	if err == nil {
		_, err = file.WriteString("password: " + password)
	}
	err = multierr.Append(err, file.Close())
	if err != nil {
		_ = os.Remove(path)
		return "", &PasswordConfigFileError{DB: db, Err: err}
	}

	p.mu.Lock()
	p.files = append(p.files, path)
	p.mu.Unlock()
	return path, nil
}

// Files returns the generated paths
func (p *PasswordConfigFiles) Files() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.files...)
}

// RemoveAll deletes every generated file
func (p *PasswordConfigFiles) RemoveAll() error {
	p.mu.Lock()
	files := p.files
	p.files = nil
	p.mu.Unlock()

	var err error
	for _, path := range files {
		if removeErr := os.Remove(path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			err = multierr.Append(err, removeErr)
		}
	}
	return err
}

// GeneratePasswordConfigFiles writes a config file for each endpoint using
// password authentication
func GeneratePasswordConfigFiles(rootPath string, source, destination config.EndpointConfig) (*PasswordConfigFiles, error) {
	files := NewPasswordConfigFiles(rootPath)

	if source.Authentication.HasCredentials() {
		path, err := files.Generate(source.Database, source.Authentication.Password)
		if err != nil {
			return nil, err
		}
		files.SourceConfigPath = path
	}
	if destination.Authentication.HasCredentials() {
		path, err := files.Generate(destination.Database, destination.Authentication.Password)
		if err != nil {
			_ = files.RemoveAll()
			return nil, err
		}
		files.DestinationConfigPath = path
	}
	return files, nil
}
