// Command sessiond is the operator-facing CLI: manage the Agent
// broker, run one-off scans, search collected history, and watch a
// live dashboard of activity.
package main

import "github.com/localsession/sessiond/internal/cli"

func main() {
	cli.Execute()
}
