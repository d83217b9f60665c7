package main

import "github.com/ValentinKolb/piebus/cmd"

func main() {
	cmd.Execute()
}
