// Package main is the entry point for facet.
//
//	@title			facet
//	@version		1.0
//	@description	Config-driven REST resources over a document store.
//	@BasePath		/
package main

func main() {
	Execute()
}
