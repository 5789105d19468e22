package main

import (
	"os"

	"github.com/koltyakov/fedchat/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
