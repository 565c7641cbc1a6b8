package trace

const (
	// ============================================================================
	// Trace Script Tokens
	// ============================================================================

	// CommentPrefix marks a comment line (or the rest of a line)
	CommentPrefix = "#"

	// LabelPrefix marks a reference to a labelled allocation: free @weights
	LabelPrefix = "@"

	// AsKeyword introduces a label on an alloc line: alloc 4k as weights
	AsKeyword = "as"

	// ============================================================================
	// Scanner Limits
	// ============================================================================

	// ScannerInitialBufferSize is the initial line buffer size
	ScannerInitialBufferSize = 4 * 1024

	// ScannerMaxLineSize bounds a single trace line
	ScannerMaxLineSize = 64 * 1024

	// MaxTransferSize bounds write/read ops so a typo cannot allocate gigabytes
	MaxTransferSize = 256 << 20
)
