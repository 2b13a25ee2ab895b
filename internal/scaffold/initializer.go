// Package scaffold writes a starter configuration for the rundown CLI.
package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/newsroomate/rundown/internal/config"
	"github.com/newsroomate/rundown/internal/printer"
)

//go:embed templates/*
var templatesFS embed.FS

// EnvExample is written next to the configuration.
const EnvExample = ".env.example"

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string
	Content     []byte
	Permissions os.FileMode
}

// Initialize writes rundown.yml and .env.example into dir.
// If force is true, existing files are replaced.
func Initialize(dir string, force bool) error {
	if force {
		if err := handleForce(dir); err != nil {
			return err
		}
	}

	files, err := getTemplateFiles(dir)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	if err := writeFiles(files); err != nil {
		return err
	}

	return validateCreatedFiles(dir)
}

// handleForce removes existing files if --force was specified
func handleForce(dir string) error {
	for _, name := range []string{config.DefaultPath, EnvExample} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			printer.Warning("Removing existing %s...\n", name)
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("failed to remove %s: %w", name, err)
			}
		}
	}
	return nil
}

// getTemplateFiles reads all template files
func getTemplateFiles(dir string) ([]FileInfo, error) {
	templates := []struct{ src, dst string }{
		{"templates/rundown.yml.tmpl", config.DefaultPath},
		{"templates/env.example.tmpl", EnvExample},
	}

	files := make([]FileInfo, 0, len(templates))
	for _, tmpl := range templates {
		content, err := templatesFS.ReadFile(tmpl.src)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s template: %w", tmpl.dst, err)
		}
		files = append(files, FileInfo{
			Path:        filepath.Join(dir, tmpl.dst),
			Content:     content,
			Permissions: 0644,
		})
	}
	return files, nil
}

// writeFiles writes all template files to disk
func writeFiles(files []FileInfo) error {
	for _, file := range files {
		if err := os.WriteFile(file.Path, file.Content, file.Permissions); err != nil {
			return fmt.Errorf("failed to write %s: %w", file.Path, err)
		}
	}
	return nil
}

// validateCreatedFiles checks the written configuration parses and validates.
func validateCreatedFiles(dir string) error {
	content, err := os.ReadFile(filepath.Join(dir, config.DefaultPath))
	if err != nil {
		return fmt.Errorf("failed to read created %s: %w", config.DefaultPath, err)
	}

	var cfg config.Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return fmt.Errorf("created %s is not valid YAML: %w", config.DefaultPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("created %s is invalid: %w", config.DefaultPath, err)
	}
	return nil
}

// PrintSuccess prints the success message with created files
func PrintSuccess() {
	printer.Success("Successfully initialized rundown configuration!\n")
	printer.Println("\nCreated:")
	printer.Printf("  ✓ %s\n", config.DefaultPath)
	printer.Printf("  ✓ %s\n", EnvExample)
	printer.Println("\nNext steps:")
	printer.Printf("  1. Point redis.url in %s at your Redis\n", config.DefaultPath)
	printer.Println("  2. Create a rundown:  rundown create \"Jornal da Tarde\"")
	printer.Println("  3. Follow it live:    rundown watch <RUNDOWN_ID>")
}
