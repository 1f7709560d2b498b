package main

import "opsdesk/cmd"

func main() {
	cmd.Execute()
}
