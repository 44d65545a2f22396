package main

import "github.com/csvquery/csvbrowse/cmd"

func main() {
	cmd.Execute()
}
