// Command recoveryctl inspects, recovers and prunes editor draft backups.
//
// Usage:
//
//	recoveryctl backup  --doc <id> [--title t] [--file path]
//	recoveryctl verify  --doc <id> | --role <role>
//	recoveryctl recover --doc <id> | --role <role> [--json]
//	recoveryctl clear   --doc <id>
//	recoveryctl janitor [--once]
//
// Settings come from environment variables (optionally a .env file) and an
// optional YAML file passed with --config.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
