// paramctl resolves and manages hierarchical merchant parameters.
//
// Usage:
//
//	paramctl resolve <parameter> <merchant>          Effective value for a merchant
//	paramctl resolve-many <merchant> <parameter>...  Several values at once
//	paramctl effective <merchant>                    Every effective value
//	paramctl chain <merchant>                        Inheritance chain
//	paramctl trace <parameter> <merchant>            Levels consulted while resolving
//	paramctl set <type> <id> <parameter> <value>     Create or replace an override
//	paramctl delete <type> <id> <parameter>          Remove an override
//	paramctl history <type> <id> <parameter>         Every version of an override
//	paramctl definitions list                        Registered definitions
//	paramctl definitions apply <file>                Upsert definitions from YAML
//	paramctl validate <parameter> <value>            Check a value without writing
//	paramctl schema                                  OpenAPI document of all definitions
//	paramctl seed [file]                             Load definitions, merchants and overrides
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
