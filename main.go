package main

import "github.com/tomas/slidemanager-daemon/cmd"

func main() {
	cmd.Execute()
}
