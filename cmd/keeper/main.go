// Package main provides the keeper CLI for backing up, restoring and
// inspecting the KPI dashboard's data.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
