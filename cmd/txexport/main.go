package main

import "github.com/vietddude/txexport/internal/cli"

func main() {
	cli.Execute()
}
