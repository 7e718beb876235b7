package content

import (
	"log/slog"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// DefaultTerminalField is the payload field CanonicalExtractor reads the
// terminal flag from unless configured otherwise.
const DefaultTerminalField = "terminal"

// Sample is what an Extractor learns from one payload. An empty
// ContentHash means the payload carried no canonical data.
type Sample struct {
	ContentHash string `json:"content_hash,omitempty"`
	Terminal    bool   `json:"terminal"`
	TextLength  int    `json:"text_length"`
}

// Extractor maps a raw captured payload to a Sample. Implementations must
// not fail: unusable payloads yield an empty Sample.
type Extractor interface {
	Extract(payload any) Sample
}

// Func adapts a plain function to Extractor.
type Func func(payload any) Sample

// Extract implements Extractor.
func (f Func) Extract(payload any) Sample {
	return f(payload)
}

// Option configures a CanonicalExtractor.
type Option func(*CanonicalExtractor)

// WithTerminalField names the boolean field that marks a payload terminal.
// The field is excluded from the hash and from the text length.
func WithTerminalField(name string) Option {
	return func(x *CanonicalExtractor) {
		x.terminalField = name
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(x *CanonicalExtractor) {
		if l != nil {
			x.logger = l
		}
	}
}

// CanonicalExtractor fingerprints payloads by hashing their canonical JSON.
// It is stateless and safe for concurrent use.
type CanonicalExtractor struct {
	terminalField string
	logger        *slog.Logger
}

// NewCanonicalExtractor creates an extractor reading the terminal flag from
// DefaultTerminalField.
func NewCanonicalExtractor(opts ...Option) *CanonicalExtractor {
	x := &CanonicalExtractor{
		terminalField: DefaultTerminalField,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Extract implements Extractor. Empty payloads (nil, "", {} or [] once the
// terminal field is removed) carry no canonical data.
func (x *CanonicalExtractor) Extract(payload any) Sample {
	v, err := Normalize(payload)
	if err != nil {
		x.logger.Debug("payload not extractable", "error", err)
		return Sample{}
	}

	var terminal bool
	if obj, ok := v.(map[string]any); ok && x.terminalField != "" {
		if flag, present := obj[x.terminalField]; present {
			terminal, _ = flag.(bool)
			rest := make(map[string]any, len(obj)-1)
			for k, elem := range obj {
				if k != x.terminalField {
					rest[k] = elem
				}
			}
			v = rest
		}
	}

	if isEmpty(v) {
		return Sample{Terminal: terminal}
	}

	canonical, err := MarshalCanonical(v)
	if err != nil {
		x.logger.Debug("payload not canonicalizable", "error", err)
		return Sample{Terminal: terminal}
	}
	return Sample{
		ContentHash: hashWithDomain(DomainContent, canonical),
		Terminal:    terminal,
		TextLength:  textLength(v),
	}
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	}
	return false
}

// textLength counts runes across every string leaf, after normalization.
func textLength(v any) int {
	switch val := v.(type) {
	case string:
		return utf8.RuneCountInString(norm.NFC.String(val))
	case []any:
		n := 0
		for _, elem := range val {
			n += textLength(elem)
		}
		return n
	case map[string]any:
		n := 0
		for _, elem := range val {
			n += textLength(elem)
		}
		return n
	}
	return 0
}
