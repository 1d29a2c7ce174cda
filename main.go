package main

import "github.com/AzielCF/az-recruit/cmd"

func main() {
	cmd.Execute()
}
