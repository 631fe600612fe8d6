package main

import "github.com/anything-indexer/anything/cmd"

func main() {
	cmd.Execute()
}
