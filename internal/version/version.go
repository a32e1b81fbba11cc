package version

import "fmt"

// ビルド時に -ldflags "-X" で埋め込む
var (
	Version = "dev"
	Commit  = "unknown"
	BuiltAt = "unknown"
)

// String は起動ログと /status に出すバージョン表記
func String() string {
	if Commit == "unknown" {
		return "lucky-draw " + Version
	}
	return fmt.Sprintf("lucky-draw %s (commit: %s, built: %s)", Version, Commit, BuiltAt)
}
