// Command vmsim boots a simulated machine and drives its virtual memory
// manager.
package main

import "github.com/chronos-systems/vmsim/vmsim/cmd"

func main() {
	cmd.Execute()
}
