// Package vision abstracts the receipt-image analysis service. The
// engine treats analysis output purely as an initial-items source; it
// runs through the same validation as manually entered items.
package vision

import "context"

// LineItem is one extracted receipt line. Prices arrive as major-unit
// floats from the analysis vendor and are converted to integer minor
// units at the engine boundary.
type LineItem struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// Analysis is the structured result of analyzing a receipt image.
type Analysis struct {
	Title         string     `json:"title"`
	Items         []LineItem `json:"items"`
	Tax           float64    `json:"tax"`
	ServiceCharge float64    `json:"serviceCharge"`
}

// Analyzer extracts structured receipt data from image bytes.
type Analyzer interface {
	Analyze(ctx context.Context, image []byte, contentType string) (*Analysis, error)
}

// Static returns a fixed analysis regardless of input. For tests.
type Static struct {
	Result *Analysis
	Err    error
}

func (s *Static) Analyze(context.Context, []byte, string) (*Analysis, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Result, nil
}
