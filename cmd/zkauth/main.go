package main

import "github.com/zkchat/zkauth/cmd/zkauth/cmd"

func main() {
	cmd.Execute()
}
