package main

import "github.com/signerkit/softtoken/cmd"

func main() {
	cmd.Execute()
}
