package main

import (
	"flag"
	"log"

	"github.com/danmuck/liftctl/internal/config"
)

const defaultPath = "cmd/liftctl/config.toml"

func main() {
	kind := flag.String("kind", config.KindSim, "config kind: sim|elevio")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath
		}
		f, err := config.LoadNodeFile(path)
		if err != nil {
			log.Fatal(err)
		}
		if err := config.ValidateNodeFile(f); err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated node config at %s", path)
		return
	}

	target := *output
	if target == "" {
		target = defaultPath
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}
