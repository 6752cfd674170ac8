// Command flowctl is the operator CLI for assetflow. It talks to the database
// and queue backend directly, using the same environment as the server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	ctx := newCommandContext()
	defer ctx.close()

	cmd := newRootCommand(ctx)
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		ctx.close()
		os.Exit(1)
	}
}
