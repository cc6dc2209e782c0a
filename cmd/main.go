// Command aggjin compiles aggregation requests into MongoDB pipelines and
// runs them.
package main

func main() {
	Cmd()
}
