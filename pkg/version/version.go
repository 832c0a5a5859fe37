package version

// Version is the build version. Release builds override it with
// -ldflags "-X m4cache/pkg/version.Version=...".
var Version = "v0.1.0"
