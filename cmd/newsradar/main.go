package main

import "newsradar/cmd/newsradar/cmd"

func main() {
	cmd.Execute()
}
