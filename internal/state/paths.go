package state

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	AppName = "snapkeep"
	HomeEnv = "SNAPKEEP_HOME"
)

// AppDir is $SNAPKEEP_HOME when set, otherwise <user config dir>/snapkeep.
func AppDir() (string, error) {
	if home := strings.TrimSpace(os.Getenv(HomeEnv)); home != "" {
		return home, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		home, homeErr := os.UserHomeDir()
		if homeErr != nil {
			return "", homeErr
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, AppName), nil
}

func ConfigPath() (string, error) {
	return appPath("config.toml")
}

// EnvPath is the optional .env file loaded before the config.
func EnvPath() (string, error) {
	return appPath(".env")
}

func RegistryPath() (string, error) {
	return appPath("snapkeep.db")
}

func ObjectStoreDir() (string, error) {
	return appPath("objects")
}

func appPath(name string) (string, error) {
	dir, err := AppDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}
