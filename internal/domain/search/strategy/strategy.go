package strategy

// Strategy selects which retrieval legs a search dispatches.
type Strategy string

// Search strategy constants.
const (
	// Auto lets the engine decide; it currently behaves like Hybrid.
	Auto Strategy = "auto"
	// Vector dispatches only the similarity leg.
	Vector Strategy = "vector"
	// Keyword dispatches only the full-text leg.
	Keyword Strategy = "keyword"
	// Hybrid dispatches both legs concurrently and fuses the results.
	Hybrid Strategy = "hybrid"
)

// IsValid checks whether the strategy is one of the supported values.
func (s Strategy) IsValid() bool {
	return s == Auto || s == Vector || s == Keyword || s == Hybrid
}

// UsesVector reports whether the strategy dispatches the vector leg.
func (s Strategy) UsesVector() bool { return s != Keyword }

// UsesKeyword reports whether the strategy dispatches the keyword leg.
func (s Strategy) UsesKeyword() bool { return s != Vector }
