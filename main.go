package main

import (
	"github.com/hexmirror/hexmirror/cmd"
)

func main() {
	cmd.Execute()
}
