// Package main is the entry point of the sapcraft CLI.
package main

import "firestige.xyz/sapcraft/cmd"

func main() {
	if err := cmd.Execute(); err != nil {
		cmd.Exit(err)
	}
}
