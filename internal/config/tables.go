package config

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/goccy/go-json"
)

//go:embed symbols.json
var defaultSymbols []byte

//go:embed flags.json
var defaultFlags []byte

type symbolRow struct {
	Symbol   string `json:"symbol"`
	Currency string `json:"currency"`
}

// LoadSymbols reads the symbol table, a JSON array of {symbol, currency}.
// An empty path selects the built-in table. The first row for a symbol wins.
func LoadSymbols(path string) (map[string]string, error) {
	data, err := readOrDefault(path, defaultSymbols)
	if err != nil {
		return nil, err
	}
	var rows []symbolRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parse symbols: %w", err)
	}

	symbols := make(map[string]string, len(rows))
	for _, r := range rows {
		if r.Symbol == "" || r.Currency == "" {
			continue
		}
		if _, ok := symbols[r.Symbol]; !ok {
			symbols[r.Symbol] = r.Currency
		}
	}
	return symbols, nil
}

// LoadFlags reads the reaction table, a JSON object mapping emoji to a
// currency code. An empty path selects the built-in table.
func LoadFlags(path string) (map[string]string, error) {
	data, err := readOrDefault(path, defaultFlags)
	if err != nil {
		return nil, err
	}
	var flags map[string]string
	if err := json.Unmarshal(data, &flags); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}
	return flags, nil
}

func readOrDefault(path string, def []byte) ([]byte, error) {
	if path == "" {
		return def, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
