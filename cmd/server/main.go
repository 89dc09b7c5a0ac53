// Package main is the entry point for the blog-api service.
package main

func main() {
	Execute()
}
