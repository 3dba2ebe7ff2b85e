// Package frame extracts candidate game objects from raw socket frames.
package frame

import (
	"regexp"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// Candidate is a flattened frame object that passed the acceptance predicate.
type Candidate map[string]any

// Strategy turns frame text into zero or more parsed JSON values.
type Strategy struct {
	Name   string
	Decode func(text string) []any
}

var (
	wrappedCall = regexp.MustCompile(`(?s)^\s*[A-Za-z_$][\w$.]*\s*\((.*)\)\s*;?\s*$`)
	enumerated  = regexp.MustCompile(`(?s)^\s*\d{1,4}\s*(\[.*\])\s*$`)
)

var (
	recognizedKeys = []string{"fen", "move", "moves", "pgn", "wtime", "btime", "clock", "uci", "san"}
	envelopeKeys   = []string{"game", "d"}
	relevantKeys   = func() []string {
		keys := make([]string, 0, len(recognizedKeys)+1)
		for _, k := range recognizedKeys {
			keys = append(keys, `"`+k+`"`)
		}
		return append(keys, `"game"`)
	}()
)

// Brace scan limits: frame size and JSON parse attempts per frame.
const (
	maxScanBytes    = 1 << 20
	maxScanAttempts = 64
)

// DefaultStrategies are tried in order on every frame.
var DefaultStrategies = []Strategy{
	{Name: "direct_json", Decode: DirectJSON},
	{Name: "wrapped_call", Decode: WrappedCall},
	{Name: "enumerated_event", Decode: EnumeratedEvent},
}

// Decoder runs the ordered strategies and falls back to a brace scan.
type Decoder struct {
	strategies []Strategy
	fallback   Strategy
	logger     *zap.Logger
}

func NewDecoder(logger *zap.Logger, strategies ...Strategy) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(strategies) == 0 {
		strategies = DefaultStrategies
	}
	return &Decoder{strategies: strategies, fallback: Strategy{Name: "brace_scan", Decode: Scan}, logger: logger}
}

// Decode never fails; undecodable frames yield no candidates.
func (d *Decoder) Decode(text string) []Candidate {
	var out []Candidate
	for _, s := range d.strategies {
		out = append(out, acceptAll(d.run(s, text))...)
	}
	if len(out) == 0 && len(text) <= maxScanBytes {
		out = acceptAll(d.run(d.fallback, text))
	}
	if len(out) == 0 {
		d.logger.Debug("frame_rejected", zap.Int("bytes", len(text)))
	}
	return out
}

func (d *Decoder) run(s Strategy, text string) (values []any) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("frame_strategy_panic", zap.String("strategy", s.Name), zap.Any("panic", r))
			values = nil
		}
	}()
	return s.Decode(text)
}

// DirectJSON parses text that is itself a JSON object or array.
func DirectJSON(text string) []any {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		return nil
	}
	v, err := parse(trimmed)
	if err != nil {
		return nil
	}
	return []any{v}
}

// WrappedCall parses the body of "identifier(body)".
func WrappedCall(text string) []any {
	m := wrappedCall.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	v, err := parse(m[1])
	if err != nil {
		return nil
	}
	return []any{v}
}

// EnumeratedEvent parses "42[...]" style event frames.
func EnumeratedEvent(text string) []any {
	m := enumerated.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	v, err := parse(m[1])
	if err != nil {
		return nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	return arr
}

// Scan extracts every outermost balanced {...} span that parses as JSON.
// Spans nested in a span that fails to parse are tried in turn.
func Scan(text string) []any {
	spans := balancedSpans(text)
	sort.Slice(spans, func(i, j int) bool { return spans[i].open < spans[j].open })
	var out []any
	covered, attempts := 0, 0
	for _, sp := range spans {
		if sp.open < covered {
			continue
		}
		if attempts == maxScanAttempts {
			break
		}
		attempts++
		if v, err := parse(text[sp.open : sp.close+1]); err == nil {
			out = append(out, v)
			covered = sp.close + 1
		}
	}
	return out
}

type span struct{ open, close int }

// balancedSpans finds every matched brace pair in one pass. Quotes only open
// a string inside braces; unmatched braces are dropped.
func balancedSpans(text string) []span {
	var spans []span
	var stack []int
	inString, escaped := false, false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = len(stack) > 0
		case '{':
			stack = append(stack, i)
		case '}':
			if n := len(stack); n > 0 {
				spans = append(spans, span{open: stack[n-1], close: i})
				stack = stack[:n-1]
			}
		}
	}
	return spans
}

func parse(text string) (any, error) {
	if !json.Valid([]byte(text)) {
		return nil, errInvalidJSON
	}
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

type staticErr string

func (e staticErr) Error() string { return string(e) }

const errInvalidJSON = staticErr("invalid json")

func acceptAll(values []any) []Candidate {
	var out []Candidate
	for _, v := range values {
		switch t := v.(type) {
		case map[string]any:
			if c, ok := Accept(t); ok {
				out = append(out, c)
			}
		case []any:
			for _, el := range t {
				if obj, ok := el.(map[string]any); ok {
					if c, ok := Accept(obj); ok {
						out = append(out, c)
					}
				}
			}
		}
	}
	return out
}

// Accept flattens obj and applies the acceptance predicate.
func Accept(obj map[string]any) (Candidate, bool) {
	flat := Flatten(obj)
	for _, k := range recognizedKeys {
		if _, ok := flat[k]; ok {
			return flat, true
		}
	}
	if _, ok := flat["game"].(map[string]any); ok {
		return flat, true
	}
	return nil, false
}

// Flatten hoists keys of nested "game" and "d" objects; top-level keys win.
func Flatten(obj map[string]any) Candidate {
	out := make(Candidate, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	for _, key := range envelopeKeys {
		nested, ok := obj[key].(map[string]any)
		if !ok {
			continue
		}
		for k, v := range nested {
			if _, exists := out[k]; !exists {
				out[k] = v
			}
		}
	}
	return out
}

// Relevant is the cheap pre-filter applied before a frame is forwarded.
func Relevant(text string) bool {
	for _, k := range relevantKeys {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// Text normalizes a binary payload to UTF-8 text.
func Text(data []byte) string {
	return strings.ToValidUTF8(string(data), "�")
}
