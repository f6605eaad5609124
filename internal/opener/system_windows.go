//go:build windows

package opener

import (
	"context"
	"fmt"

	"golang.org/x/sys/windows"
)

// shellOpener opens targets through the registered protocol handler.
type shellOpener struct{}

// System returns the platform URL opener.
func System() (Opener, error) {
	return shellOpener{}, nil
}

// Open implements Opener.
func (shellOpener) Open(ctx context.Context, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	verb, err := windows.UTF16PtrFromString("open")
	if err != nil {
		return err
	}
	file, err := windows.UTF16PtrFromString(target)
	if err != nil {
		return fmt.Errorf("encode target: %w", err)
	}
	if err := windows.ShellExecute(0, verb, file, nil, nil, windows.SW_SHOWNORMAL); err != nil {
		return fmt.Errorf("ShellExecute: %w", err)
	}
	return nil
}
