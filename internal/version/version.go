package version

import "strings"

// Version values are set at build time using -ldflags.
var Version = "dev"
var Built = ""
var GitCommit = ""

type VersionInfo struct {
	Version   string
	Built     string
	GitCommit string
}

func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:   Version,
		Built:     Built,
		GitCommit: GitCommit,
	}
}

// String renders the info as shown by `devwatch --version`.
func (info VersionInfo) String() string {
	parts := []string{info.Version}
	if info.GitCommit != "" {
		parts = append(parts, "commit "+info.GitCommit)
	}
	if info.Built != "" {
		parts = append(parts, "built "+info.Built)
	}
	return strings.Join(parts, ", ")
}
