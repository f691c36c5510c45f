package entity

// Document format constants.
const (
	// FormatName tags every document produced by this module.
	FormatName = "issai-document"

	// FormatVersion is the current document schema version.
	FormatVersion = 1

	// Version is the issai release version.
	Version = "0.3.0"
)
