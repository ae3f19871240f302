package tokens

import (
	"fmt"
	"os/exec"
	"runtime"
)

// openBrowser opens u in the user's default browser.
func openBrowser(u string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", u).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", u).Start()
	case "linux":
		return exec.Command("xdg-open", u).Start()
	default:
		return fmt.Errorf("tokens: don't know how to open a browser on %s", runtime.GOOS)
	}
}
