// Package main is the entry point for apiforge.
package main

func main() {
	Execute()
}
