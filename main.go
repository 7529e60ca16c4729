// The main package for the orgscraper executable.
package main

import "github.com/vkadlec/orgscraper/cmd"

func main() {
	cmd.Execute()
}
