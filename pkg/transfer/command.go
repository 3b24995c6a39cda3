package transfer

import (
	"net/url"
	"path/filepath"
	"strconv"

	"github.com/cohenjo/migration-stream/pkg/config"
	"github.com/cohenjo/migration-stream/pkg/models"
)

// defaultInsertionWorkers is the mongorestore default for --numInsertionWorkersPerCollection
const defaultInsertionWorkers = 1

// Command is a mongo tools invocation
type Command interface {
	// Name identifies the command in logs and spans
	Name() string
	// Args returns the executable followed by its arguments
	Args() []string
}

// DumpCommand dumps one source collection with mongodump
type DumpCommand struct {
	Executable     string
	Endpoint       config.EndpointConfig
	Collection     models.DbCollection
	DumpPath       string
	ReadPreference string
	Gzip           bool
	// PasswordConfigPath is the generated password file, empty without credentials
	PasswordConfigPath string
}

func (c DumpCommand) Name() string { return "dump" }

func (c DumpCommand) Args() []string {
	args := []string{
		c.Executable,
		"--uri", c.Endpoint.URI,
		"--db", c.Collection.DBName,
		"--collection", c.Collection.CollectionName,
		"--out", c.DumpPath,
		"--readPreference", c.ReadPreference,
	}
	args = append(args, gzipArgs(c.Gzip)...)
	return append(args, credentialArgs(c.Endpoint.Authentication, c.PasswordConfigPath)...)
}

// RestoreCommand restores one dumped collection into the destination with
// mongorestore, without its indexes
type RestoreCommand struct {
	Executable         string
	Endpoint           config.EndpointConfig
	Collection         models.DbCollection
	DumpPath           string
	Gzip               bool
	InsertionWorkers   int
	PasswordConfigPath string
}

func (c RestoreCommand) Name() string { return "restore" }

func (c RestoreCommand) Args() []string {
	args := []string{
		c.Executable,
		"--uri", c.Endpoint.URI,
		"--db", c.Collection.DBName,
		"--collection", c.Collection.CollectionName,
		"--dir", c.DumpPath,
		"--noIndexRestore",
	}
	args = append(args, gzipArgs(c.Gzip)...)
	if c.InsertionWorkers > 0 && c.InsertionWorkers != defaultInsertionWorkers {
		args = append(args, "--numInsertionWorkersPerCollection", strconv.Itoa(c.InsertionWorkers))
	}
	return append(args, credentialArgs(c.Endpoint.Authentication, c.PasswordConfigPath)...)
}

func gzipArgs(enabled bool) []string {
	if enabled {
		return []string{"--gzip"}
	}
	return nil
}

func credentialArgs(auth config.AuthenticationConfig, passwordConfigPath string) []string {
	if !auth.HasCredentials() || passwordConfigPath == "" {
		return nil
	}
	return []string{
		"--username", auth.Username,
		"--config", passwordConfigPath,
		"--authenticationDatabase", auth.AuthDatabase,
	}
}

// DumpsDir is where mongodump writes under the migration root
func DumpsDir(rootPath string) string {
	return filepath.Join(rootPath, "dumps")
}

// DumpedCollectionPath is the .bson file mongodump produces for collection.
// mongodump query-escapes collection names in file names.
func DumpedCollectionPath(dumpsDir string, collection models.DbCollection) string {
	return filepath.Join(dumpsDir, collection.DBName, url.QueryEscape(collection.CollectionName)+".bson")
}
