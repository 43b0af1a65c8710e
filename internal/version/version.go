// Package version exposes build metadata injected with -ldflags "-X".
package version

import "strings"

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = ""
)

type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time,omitempty"`
}

func Current() Info {
	return Info{
		Version:   orDefault(Version, "dev"),
		Commit:    orDefault(Commit, "unknown"),
		BuildTime: strings.TrimSpace(BuildTime),
	}
}

func orDefault(v, d string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return d
}
