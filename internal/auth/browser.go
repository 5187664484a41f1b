package auth

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/cli/browser"
)

// launchBrowser opens authURL in the default browser, or with app when given
// (the URL is appended as the last argument). The returned channel, non-nil
// only for app launches, receives the app's exit status.
func launchBrowser(ctx context.Context, app []string, authURL string) (<-chan error, error) {
	if len(app) == 0 {
		if err := browser.OpenURL(authURL); err != nil {
			return nil, fmt.Errorf("failed to open browser: %w", err)
		}
		return nil, nil
	}

	args := append(append([]string{}, app[1:]...), authURL)
	cmd := exec.CommandContext(ctx, app[0], args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", app[0], err)
	}

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
		close(exited)
	}()
	return exited, nil
}
