// Importing this package registers the git connector with the vcs
// registry:
//
//	import _ "github.com/wcsync/wcsync/internal/vcs/git" // Auto-registers via init()
//
//	conn, err := vcs.Open(".", vcs.Options{})
package git

import "github.com/wcsync/wcsync/internal/vcs"

// init registers the git connector with the registry.
// This is called automatically when the package is imported.
func init() {
	vcs.Register(vcs.TypeGit, func(root string, opts vcs.Options) (vcs.Connector, error) {
		return New(root, opts)
	})
}
