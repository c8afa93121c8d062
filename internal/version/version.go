// Package version provides build and version information.
package version

// Version is the current application version.
const Version = "0.2.0"

// Milestones:
// 0.2.0 - Interactive solution browser, -convert and -dump modes
// 0.1.0 - Initial release: header parsing, TAN transforms, 4/6-parameter plate fit
