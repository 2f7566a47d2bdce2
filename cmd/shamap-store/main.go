package main

import "github.com/LeJamon/go-shamap/internal/cli"

func main() {
	cli.Execute()
}
