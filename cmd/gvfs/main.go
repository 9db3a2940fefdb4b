package main

import "github.com/objectfs/gvfs/cmd/gvfs/cmd"

func main() {
	cmd.Execute()
}
