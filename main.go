package main

import "github.com/kozaktomas/face-registry/cmd"

func main() {
	cmd.Execute()
}
