package main

import "github.com/MeKo-Tech/fisheye/cmd/fisheye/cmd"

func main() {
	cmd.Execute()
}
