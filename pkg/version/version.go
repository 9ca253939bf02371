package version

import "fmt"

// Populated at build time via -ldflags.
var (
	versionName = "unknown"
	gitCommit   = ""
)

type Info struct {
	VersionName string `json:"versionName"`
	GitCommit   string `json:"gitCommit"`
}

func Get() Info {
	return Info{
		VersionName: versionName,
		GitCommit:   gitCommit,
	}
}

func (i Info) String() string {
	if i.GitCommit == "" {
		return i.VersionName
	}
	return fmt.Sprintf("%s (%s)", i.VersionName, i.GitCommit)
}
