// Package main is the entry point for pixelpress.
package main

func main() {
	Execute()
}
