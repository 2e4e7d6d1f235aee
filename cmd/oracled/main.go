package main

import (
	"context"
	"os"

	"github.com/GPTx-global/near-oracle/oracle/log"
)

func main() {
	log.InitLogger()

	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}
