// ldpctl is the operator CLI for ldpd, talking to the daemon's control
// socket (spec §6).
package main

import "github.com/ldp-project/ldpd/cmd/ldpctl/commands"

func main() {
	commands.Execute()
}
