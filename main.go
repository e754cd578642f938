package main

import "github.com/Norgate-AV/ccsh/cmd"

func main() {
	cmd.Execute()
}
