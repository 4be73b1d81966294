package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"hedgegram/logs"
)

// Ensure PaperSource implements PositionSource.
var _ PositionSource = (*PaperSource)(nil)

// PaperSource serves synthetic positions for simulated trading. It reads a
// JSON position file when one exists and falls back to a built-in book
// otherwise. It never performs network calls.
type PaperSource struct {
	path string
}

// NewPaperSource creates a paper source backed by the given file. An empty
// path disables the file and always serves the built-in book.
func NewPaperSource(path string) *PaperSource {
	return &PaperSource{path: path}
}

func (p *PaperSource) FetchPositions(ctx context.Context) ([]Position, error) {
	raw, err := p.loadBook()
	if err != nil {
		return nil, err
	}
	return Enrich(raw), nil
}

func (p *PaperSource) loadBook() ([]Position, error) {
	if p.path == "" {
		return defaultPaperBook(), nil
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultPaperBook(), nil
		}
		return nil, fmt.Errorf("failed to read paper position file: %w", err)
	}
	var book []Position
	if err := json.Unmarshal(data, &book); err != nil {
		return nil, fmt.Errorf("corrupt paper position file %s: %w", p.path, err)
	}
	logs.Debugf("[Paper] Loaded %d positions from %s", len(book), p.path)
	return book, nil
}

// defaultPaperBook is a small options hedge pair used when no position file
// is configured.
func defaultPaperBook() []Position {
	return []Position{
		{Symbol: "FINNIFTY-MONTH-CE-5OTM", Side: Buy, Qty: 65, AvgPrice: 100.0, LTP: 104.5},
		{Symbol: "FINNIFTY-MONTH-PE-5OTM", Side: Sell, Qty: 65, AvgPrice: 90.0, LTP: 87.0},
	}
}
