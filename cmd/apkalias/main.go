// Command apkalias copies freshly built Android packages to a friendlier,
// prefixed file name once the Gradle assemble stages finish.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
