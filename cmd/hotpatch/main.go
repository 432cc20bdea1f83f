// SPDX-License-Identifier: MPL-2.0

// Command hotpatch compiles changed Kotlin sources of an Android project into
// a dex patch and installs it on the connected device.
package main

import (
	"context"
	"os"
)

func main() {
	os.Exit(Execute(context.Background()))
}
