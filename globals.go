// Package errthang holds process-wide defaults shared by the search
// engine's subpackages: default paths, the app name, and the
// zerolog logger constructor.
package errthang

import (
	"log"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

var (
	DefaultAppName    = "errthang"
	DefaultConfigPath = filepath.Join(getHomeDir(), ".config", DefaultAppName)
	DefaultCacheDir   = filepath.Join(DefaultConfigPath, ".cache")

	// DefaultSnapshotPath is where the memory-mapped binary index lives.
	DefaultSnapshotPath = filepath.Join(DefaultConfigPath, "index.bin")

	// DefaultCatalogDSN points at the embedded catalog database.
	DefaultCatalogDSN = filepath.Join(DefaultConfigPath, "catalog.db")
)

func getHomeDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		cwd, cwdErr := os.Getwd()
		if cwdErr != nil {
			log.Printf("unable to get home or working directory, using /tmp: %v", err)
			return "/tmp"
		}
		log.Printf("unable to get home directory, using current working directory: %v", err)
		return cwd
	}
	return homeDir
}

// GetLogger returns a properly configured zerolog logger instance.
func GetLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
