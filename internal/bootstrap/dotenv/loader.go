// Package dotenv loads a .env file into the process environment before
// configuration is read.
package dotenv

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
)

var once sync.Once

// LoadOnce loads environment variables from a .env file exactly once.
// Priority:
// 1) ENV_FILE if set (single path)
// 2) .env walking up from the working directory to the repo root
// Skips entirely when NO_DOTENV=1. Existing variables are never overridden
// unless DOTENV_OVERLOAD=1.
func LoadOnce() {
	once.Do(load)
}

func load() {
	if os.Getenv("NO_DOTENV") == "1" {
		return
	}

	overload := os.Getenv("DOTENV_OVERLOAD") == "1"
	loadFile := func(paths ...string) {
		if overload {
			_ = godotenv.Overload(paths...)
		} else {
			_ = godotenv.Load(paths...)
		}
	}

	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		loadFile(envFile)
		return
	}

	dir, err := os.Getwd()
	if err != nil {
		loadFile(".env")
		return
	}
	for i := 0; i < 8; i++ {
		loadFile(filepath.Join(dir, ".env"))
		if exists(filepath.Join(dir, "go.mod")) || exists(filepath.Join(dir, ".git")) {
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
