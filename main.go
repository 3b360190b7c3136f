package main

import "github.com/schoolcore/fees-management/cmd"

func main() {
	cmd.Execute()
}
