// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/cnabforge/cnabforge/cmd/cnabforge"

func main() {
	cmd.Execute()
}
