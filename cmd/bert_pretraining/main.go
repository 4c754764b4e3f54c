//go:generate go run github.com/Songmu/gocredits/cmd/gocredits@v0.3.0 -w
package main

import (
	"context"
	_ "embed"
	"os"
	"os/signal"

	"github.com/opst/bertpretrain/pkg/logger"
	"github.com/opst/bertpretrain/pkg/utils/try"
	"github.com/youta-t/flarc"
)

//go:embed CREDITS
var CREDITS string

func main() {
	ctx, cancel := signal.NotifyContext(
		context.Background(), os.Interrupt, os.Kill,
	)
	defer cancel()
	logger := logger.Default("[bert_pretraining] ")

	cmd := try.To(New(logger)).OrFatal(logger)

	os.Exit(flarc.Run(ctx, cmd))
}
