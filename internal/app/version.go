package app

import (
	"fmt"
	"io"
	"os"
)

// Version information (set by build flags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// ShowVersion displays version information
func ShowVersion() {
	printVersion(os.Stdout)
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "modesfeed Mode S / ADS-B feed decoder\n")
	fmt.Fprintf(w, "Version: %s\n", Version)
	fmt.Fprintf(w, "Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "Git Commit: %s\n", GitCommit)
}
