package main

import (
	"flag"
	"log"

	"github.com/batheaded/map-reduce/internal/node"
	"github.com/batheaded/map-reduce/internal/worker"
	"github.com/batheaded/map-reduce/internal/wordcount"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "configPath", "", "path to configuration file")
	flag.Parse()

	cfg := node.MustLoadConfig(configPath)

	kernels := worker.NewRegistry()
	wordcount.Register(kernels)

	app, err := node.New(cfg, kernels)
	if err != nil {
		log.Fatalf("failed to initialize node: %v", err)
	}

	if err := app.Run(); err != nil {
		log.Fatalf("node exited with error: %v", err)
	}
}
