package main

import "motifrank"

func main() {
	motifrank.Main()
}
