package evm

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

//go:embed abis/*.json
var embeddedABIs embed.FS

// DefaultABIs parses the bridge and token interfaces shipped with the binary,
// keyed by file name without extension (e.g. "HomeBridgeErcToErc").
func DefaultABIs() (map[string]*abi.ABI, error) {
	abis := map[string]*abi.ABI{}
	err := fs.WalkDir(embeddedABIs, "abis", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		data, err := embeddedABIs.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read abi %s: %w", path, err)
		}
		return addABI(abis, path, data)
	})
	if err != nil {
		return nil, err
	}
	return abis, nil
}

// LoadABIs returns the embedded ABIs overlaid with ABI JSON files from the provided
// directories. A file named like an embedded ABI replaces it.
func LoadABIs(dirs []string) (map[string]*abi.ABI, error) {
	abis, err := DefaultABIs()
	if err != nil {
		return nil, err
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".json") {
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read abi %s: %w", path, err)
			}
			return addABI(abis, path, data)
		})
		if err != nil {
			return nil, err
		}
	}
	return abis, nil
}

func addABI(abis map[string]*abi.ABI, path string, data []byte) error {
	a, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("parse abi %s: %w", path, err)
	}
	name := filepath.Base(path)
	abis[strings.TrimSuffix(name, filepath.Ext(name))] = &a
	return nil
}

// FindEvent searches loaded ABIs for an event with the given name.
func FindEvent(abis map[string]*abi.ABI, eventName string) (*abi.Event, bool) {
	for _, a := range abis {
		if ev, ok := a.Events[eventName]; ok {
			return &ev, true
		}
	}
	return nil, false
}
