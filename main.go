package main

import "github.com/kozaktomas/presence-gate/cmd"

func main() {
	cmd.Execute()
}
