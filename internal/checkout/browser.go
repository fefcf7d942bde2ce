package checkout

import (
	"fmt"
	"os/exec"
	"runtime"
)

// BrowserOpener launches the system browser for the checkout URL.
// The OS gives no handle back, so the returned window reports a
// conservative Closed() == false and Close is a no-op; the reconciler
// relies on the polled balance, never on window state.
type BrowserOpener struct {
	// ScreenW/ScreenH are advisory; most window managers ignore
	// placement hints for external opens anyway.
	ScreenW, ScreenH int
}

// ScreenSize implements Opener.
func (b *BrowserOpener) ScreenSize() (int, int) {
	if b.ScreenW > 0 && b.ScreenH > 0 {
		return b.ScreenW, b.ScreenH
	}
	return 1920, 1080
}

// Open implements Opener by shelling out to the platform opener.
func (b *BrowserOpener) Open(url string, _ Geometry) (Window, error) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWindowBlocked, err)
	}
	return detachedWindow{}, nil
}

// detachedWindow is a browser tab we cannot observe or control.
type detachedWindow struct{}

func (detachedWindow) Closed() bool { return false }
func (detachedWindow) Close()       {}

// BrowserNavigator implements Navigator for non-web hosts: a full-page
// navigation becomes a new browser tab.
type BrowserNavigator struct {
	opener BrowserOpener
}

// Navigate implements Navigator. Best-effort; there is nothing useful to
// do with a failed open here.
func (n *BrowserNavigator) Navigate(url string) {
	_, _ = n.opener.Open(url, Geometry{})
}
