package main

import "counseling/cmd"

func main() {
	cmd.Run()
}
