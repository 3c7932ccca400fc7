// Package main is the entry point for the refresher application
package main

import (
	"github.com/threatmaps/refresher/cmd"
)

func main() {
	cmd.Execute()
}
