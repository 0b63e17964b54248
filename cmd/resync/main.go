// Command resync runs one differential synchronization pass, bringing a
// target MySQL replica's row contents into equality with a source replica.
package main

import (
	"github.com/alecthomas/kong"
	"github.com/block/resync/pkg/sync"
)

var cli struct {
	sync.Sync `cmd:"" help:"Synchronize a target replica's rows to match a source replica."`
}

func main() {
	ctx := kong.Parse(&cli, kong.Description("Differential replica synchronization."))
	ctx.FatalIfErrorf(ctx.Run())
}
