package main

import "ktail/cmd/ktail/cmd"

func main() {
	cmd.Execute()
}
