package main

import "github.com/nextlevelbuilder/clawguard/cmd"

func main() {
	cmd.Execute()
}
