//go:build !windows

package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Fprintln(os.Stderr, "hostapp-tray is only available on Windows; use hostapp instead")
	os.Exit(1)
}
