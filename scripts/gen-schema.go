//go:build ignore

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ormasoftchile/stepbind/pkg/config"
	"github.com/ormasoftchile/stepbind/pkg/kernel/bindings"
)

func main() {
	if err := os.MkdirAll("schemas", 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "mkdir: %v\n", err)
		os.Exit(1)
	}
	for name, gen := range map[string]func() ([]byte, error){
		"config-v1.json":   config.GenerateJSONSchema,
		"manifest-v1.json": bindings.GenerateManifestJSONSchema,
	} {
		data, err := gen()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error generating %s: %v\n", name, err)
			os.Exit(1)
		}
		path := filepath.Join("schemas", name)
		if err := os.WriteFile(path, data, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "write: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("wrote " + path)
	}
}
