package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stacklight/wabridge/pkg/config"
	"github.com/stacklight/wabridge/pkg/storage"
)

// exportCommand dumps archived messages to JSON files, one file per provider.
func exportCommand(configPath, outputDir string) {
	fmt.Println("📤 wabridge archive export")
	fmt.Println()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("❌ Error loading config: %v\n", err)
		os.Exit(1)
	}

	archive, err := storage.NewArchive(storage.Config{
		Type:        cfg.Storage.Type,
		FilePath:    cfg.Storage.FilePath,
		DatabaseURL: cfg.Storage.DatabaseURL,
	})
	if err != nil {
		fmt.Printf("❌ Error opening archive: %v\n", err)
		os.Exit(1)
	}
	defer archive.Close()

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		fmt.Printf("❌ Error creating output directory: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	for _, provider := range []string{"whatsapp"} {
		msgs, err := archive.RecentMessages(ctx, provider, 10000)
		if err != nil {
			fmt.Printf("❌ Error reading archive for %s: %v\n", provider, err)
			os.Exit(1)
		}

		filename := filepath.Join(outputDir, provider+"-messages.json")
		if err := writeJSON(filename, msgs); err != nil {
			fmt.Printf("❌ Error writing %s: %v\n", filename, err)
			os.Exit(1)
		}
		fmt.Printf("   ✅ Exported %d messages to %s\n", len(msgs), filename)
	}

	fmt.Println()
	fmt.Printf("✅ Export completed to: %s\n", outputDir)
}

func writeJSON(filename string, data interface{}) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
