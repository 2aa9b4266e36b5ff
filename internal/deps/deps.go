package deps

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"livestreamdvr/internal/config"
	"livestreamdvr/internal/services"
)

// Requirement defines an external tool the recorder invokes.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Path        string
	Detail      string
}

// Requirements lists the configured tools. Capture cannot run without
// streamlink and ffmpeg; the rest only disable individual media operations.
func Requirements(cfg *config.Config) []Requirement {
	if cfg == nil {
		return nil
	}
	return []Requirement{
		{Name: "streamlink", Command: cfg.Binaries.Streamlink, Description: "Captures live streams"},
		{Name: "ffmpeg", Command: cfg.Binaries.FFmpeg, Description: "Remux, cut and thumbnails"},
		{Name: "ffprobe", Command: cfg.Binaries.FFprobe, Description: "Duration and stream probing", Optional: true},
		{Name: "mediainfo", Command: cfg.Binaries.Mediainfo, Description: "Media metadata", Optional: true},
		{Name: "vcsi", Command: cfg.Binaries.VCSI, Description: "Contact sheets", Optional: true},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		path, err := Resolve(req.Name, cmd)
		if err != nil {
			status.Detail = detail(cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		status.Path = path
		results = append(results, status)
	}
	return results
}

// MissingRequired returns the names of unavailable non-optional tools.
func MissingRequired(statuses []Status) []string {
	var missing []string
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			missing = append(missing, s.Name)
		}
	}
	return missing
}

// Resolve finds command on disk or in PATH. A missing tool is reported as a
// *services.SpawnError so callers treat it like any other spawn failure.
func Resolve(name, command string) (string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return "", &services.SpawnError{Label: name, Err: fmt.Errorf("%s: command not configured", name)}
	}
	if strings.ContainsRune(command, os.PathSeparator) {
		info, err := os.Stat(command)
		if err != nil {
			return "", &services.SpawnError{Label: name, Bin: command, Err: err}
		}
		if !isExecutable(info) {
			return "", &services.SpawnError{Label: name, Bin: command, Err: fmt.Errorf("%s is not executable", command)}
		}
		return command, nil
	}
	path, err := exec.LookPath(command)
	if err != nil {
		return "", &services.SpawnError{Label: name, Bin: command, Err: err}
	}
	return path, nil
}

func detail(cmd string) string {
	if cmd == "" {
		return "command not configured"
	}
	return fmt.Sprintf("binary %q not found", cmd)
}

func isExecutable(info os.FileInfo) bool {
	if info == nil || info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}
