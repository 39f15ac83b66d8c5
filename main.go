package main

import "github.com/dyslexiview/dyslexiview/cmd"

func main() {
	cmd.Execute()
}
