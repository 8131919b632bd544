// Command chatcli is a terminal client for the portal chat service.
package main

func main() {
	Execute()
}
