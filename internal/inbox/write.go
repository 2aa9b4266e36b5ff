package inbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
)

const (
	commandExt  = ".json"
	rejectedExt = ".rejected"
)

// Write validates cmd and drops it into dir atomically, so the watcher never
// sees a partial file. It returns the file path.
func Write(dir string, cmd Command) (string, error) {
	if err := cmd.Validate(); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(cmd, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode command: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create inbox dir: %w", err)
	}
	// The time prefix keeps lexical order equal to submission order.
	name := fmt.Sprintf("%s_%s_%s%s", time.Now().UTC().Format("20060102T150405.000000000"), cmd.Type, uuid.NewString()[:8], commandExt)
	path := filepath.Join(dir, name)
	if err := renameio.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write command %s: %w", path, err)
	}
	return path, nil
}
