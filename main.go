package main

import "github.com/surge-downloader/ariasync/cmd"

func main() {
	cmd.Execute()
}
