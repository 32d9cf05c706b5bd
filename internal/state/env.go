package state

import (
	"errors"
	"os"

	"github.com/joho/godotenv"
)

// LoadEnvFile loads <app dir>/.env when present. Variables already set in
// the environment win.
func LoadEnvFile() error {
	path, err := EnvPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}
