package main

import cmd "github.com/arkinul/tuebingen-search/internal/cli"

func main() {
	cmd.Execute()
}
