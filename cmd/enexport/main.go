package main

import "github.com/JonMunkholm/enexport/internal/cli"

func main() {
	cli.Execute()
}
