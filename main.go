package main

import "github.com/cursorclaw/agentcore/cmd"

func main() {
	cmd.Execute()
}
