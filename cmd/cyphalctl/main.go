// Command cyphalctl is the operator-facing counterpart to the library: it
// inspects a persisted transfer-id map and tails a running monitoring
// server, the way sarchlab/akita's `akita` binary wraps its own library
// with a Cobra CLI.
package main

func main() {
	Execute()
}
