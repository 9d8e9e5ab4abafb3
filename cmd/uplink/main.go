// uplink is a developer CLI around the signal-uplink library: set
// credentials, submit uploads, and watch them through to confirmation.
// It drives the same boundary the host application binds against.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
