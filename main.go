package main

import "github.com/personachain/identity-relayer/cmd"

func main() {
	cmd.Execute()
}
