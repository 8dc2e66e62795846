package main

import "github.com/strrl/mathchat/cmd/mathchat/commands"

func main() {
	commands.Execute()
}
