package version

import (
	"fmt"
	"log"
	"strings"

	"github.com/fleetmon/fleetmon/theme"
)

var (
	Name        = "fleetmon"
	Description = "Two-tier fleet monitoring for small Linux clusters"
	Version     = "v0.1.0"
	Commit      = "none"
	Date        = "nowish"
)

const (
	GithubHomeText = "github.com/fleetmon/fleetmon"
	GithubHomeUri  = "https://github.com/fleetmon/fleetmon"
)

// PrintBanner writes the startup banner for the named component
// (agent or aggregator).
func PrintBanner(component string, extendedInfo bool, vlog *log.Logger) {
	githubUri := theme.Hyperlink(GithubHomeUri, GithubHomeText)

	var b strings.Builder

	b.WriteString(theme.ColourSplash(`
╔──────────────────────────────────────────────╗
│  ███████╗██╗     ███████╗███████╗████████╗   │
│  ██╔════╝██║     ██╔════╝██╔════╝╚══██╔══╝   │
│  █████╗  ██║     █████╗  █████╗     ██║      │
│  ██╔══╝  ██║     ██╔══╝  ██╔══╝     ██║      │
│  ██║     ███████╗███████╗███████╗   ██║mon   │
╚──────────────────────────────────────────────╝` + "\n"))

	b.WriteString(theme.ColourSplash(" "))
	b.WriteString(theme.StyleUrl(githubUri))
	b.WriteString(" ")
	b.WriteString(theme.ColourVersion(Version))
	b.WriteString(theme.ColourSplash(fmt.Sprintf("  [%s]", component)))

	if extendedInfo {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf(" Commit: %s\n", Commit))
		b.WriteString(fmt.Sprintf("  Built: %s\n", Date))
	}

	vlog.Println(b.String())
}
