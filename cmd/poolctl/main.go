// Command poolctl replays allocation traces against an accelerator memory pool.
package main

func main() {
	execute()
}
