package main

import "github.com/juliuskreutz/chive-master/cmd"

func main() {
	cmd.Execute()
}
