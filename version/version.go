package version

// will be replaced with the release version when using goreleaser
var version = "development"

// BuddyBotVersion returns the BuddyBot version
func BuddyBotVersion() string {
	return version
}
