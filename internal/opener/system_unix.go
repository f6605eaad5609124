//go:build !windows

package opener

import (
	"fmt"
	"os/exec"
	"runtime"
)

// System returns the platform URL opener.
func System() (Opener, error) {
	var candidates []string
	switch runtime.GOOS {
	case "darwin":
		candidates = []string{"open"}
	case "android":
		candidates = []string{"termux-open-url", "xdg-open"}
	default:
		candidates = []string{"xdg-open", "gio", "wslview"}
	}

	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			if name == "gio" {
				return &Command{Name: path, Args: []string{"open"}}, nil
			}
			return &Command{Name: path}, nil
		}
	}
	return nil, fmt.Errorf("%w: tried %v", ErrNoOpener, candidates)
}
