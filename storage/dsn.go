package storage

import (
	"fmt"
	"path/filepath"
	"strings"
)

// filePragmas are applied to every on-disk database: WAL keeps readers from
// blocking the write path of the mint/redeem loop, and the busy timeout covers
// snapshot writes racing the event journal.
var filePragmas = []string{
	"mode=rwc",
	"_busy_timeout=5000",
	"_journal_mode=WAL",
	"_foreign_keys=on",
}

// FileDSN builds an on-disk SQLite DSN from a filesystem path.
func FileDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", ErrPathRequired
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve storage path: %w", err)
	}
	return fmt.Sprintf("file:%s?%s", abs, strings.Join(filePragmas, "&")), nil
}

// MemoryDSN returns a shared in-memory DSN, used by tests and ephemeral runs.
func MemoryDSN(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		trimmed = "eurovault"
	}
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", trimmed)
}
