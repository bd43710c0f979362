// Package main provides the entry point for agentsdkctl, the ambient CLI
// front-end over the conversation engine (§1, A7): it wires config,
// storage, the LLM, tool registry, and delegation coordinator together and
// exposes them through a small cobra command tree, following
// cmd/opencode's command-tree shape and cmd/opencode-server's flag/env
// wiring pattern.
package main

import (
	"os"

	"github.com/jimwhite/agent-sdk-sub003/cmd/agentsdkctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
