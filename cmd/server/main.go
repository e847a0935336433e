package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/pixelriver/internal/server"
	"github.com/dmitrijs2005/pixelriver/internal/server/config"
)

func main() {

	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}

	app, err := server.NewApp(cfg)
	if err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}

	app.Run(ctx)

}
