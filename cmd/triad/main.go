// Command triad runs and inspects multi-agent orchestration sessions.
package main

func main() {
	Execute()
}
