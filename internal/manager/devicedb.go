package manager

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"p2p-go-home/internal/p2p"
)

// VendorGroup groups device types under one vendor OUI.
type VendorGroup struct {
	OUI   string        `json:"oui"`
	Types []p2p.TypeDef `json:"types"`
}

// catalogFile is the JSON structure for files in the device type directory.
type catalogFile struct {
	Types   []p2p.TypeDef     `json:"types,omitempty"`
	Vendors []VendorGroup     `json:"vendors,omitempty"`
	Aliases map[string]string `json:"aliases,omitempty"`
}

// LoadCatalogDir reads all *.json files from dir into catalog. A missing or
// empty directory is not an error.
func LoadCatalogDir(dir string, catalog *p2p.Catalog, logger *slog.Logger) error {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return fmt.Errorf("glob device type dir: %w", err)
	}
	if len(matches) == 0 {
		logger.Info("no device type files found", "dir", dir)
		return nil
	}

	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		var cf catalogFile
		if err := json.Unmarshal(data, &cf); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}

		for _, t := range cf.Types {
			catalog.Register(t)
		}
		typeCount := len(cf.Types)
		for _, vg := range cf.Vendors {
			for _, t := range vg.Types {
				t.OUI = vg.OUI
				catalog.Register(t)
			}
			typeCount += len(vg.Types)
		}
		for addr, name := range cf.Aliases {
			mac, err := p2p.ParseMAC(addr)
			if err != nil {
				return fmt.Errorf("parse %s: alias %q: %w", path, addr, err)
			}
			catalog.SetAlias(mac, name)
		}

		logger.Info("loaded device type file", "path", filepath.Base(path),
			"types", typeCount, "aliases", len(cf.Aliases))
	}

	logger.Info("device type catalog loaded", "files", len(matches), "types", catalog.Len())
	return nil
}
