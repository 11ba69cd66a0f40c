package main

import "github.com/seapack/seapack/cmd"

func main() {
	cmd.Execute()
}
