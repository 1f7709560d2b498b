// Package wire implements the legacy XML-RPC client used to talk to tenant
// ERP endpoints: envelope construction, a narrow response parser, session
// caching, and retry-wrapped transport.
package wire

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Fault is a protocol-level rejection from the remote business logic. It is
// distinct from transport failures and is never retried.
type Fault struct {
	Code    int
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("erp fault %d: %s", f.Code, f.Message)
}

// EncodeCall renders a methodCall envelope for a method and its positional
// arguments.
func EncodeCall(method string, params ...any) ([]byte, error) {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?>`)
	b.WriteString("<methodCall><methodName>")
	b.WriteString(escape(method))
	b.WriteString("</methodName><params>")
	for _, param := range params {
		b.WriteString("<param><value>")
		if err := encodeValue(&b, param); err != nil {
			return nil, err
		}
		b.WriteString("</value></param>")
	}
	b.WriteString("</params></methodCall>")
	return []byte(b.String()), nil
}

// encodeValue writes the tagged representation of one value, recursing into
// slices and string-keyed maps. Unknown types are an encoding error rather
// than a silent string coercion.
func encodeValue(b *strings.Builder, value any) error {
	switch v := value.(type) {
	case nil:
		b.WriteString("<nil/>")
	case string:
		b.WriteString("<string>")
		b.WriteString(escape(v))
		b.WriteString("</string>")
	case bool:
		if v {
			b.WriteString("<boolean>1</boolean>")
		} else {
			b.WriteString("<boolean>0</boolean>")
		}
	case int:
		fmt.Fprintf(b, "<int>%d</int>", v)
	case int32:
		fmt.Fprintf(b, "<int>%d</int>", v)
	case int64:
		fmt.Fprintf(b, "<int>%d</int>", v)
	case float32:
		fmt.Fprintf(b, "<double>%s</double>", strconv.FormatFloat(float64(v), 'f', -1, 32))
	case float64:
		fmt.Fprintf(b, "<double>%s</double>", strconv.FormatFloat(v, 'f', -1, 64))
	case []any:
		b.WriteString("<array><data>")
		for _, item := range v {
			b.WriteString("<value>")
			if err := encodeValue(b, item); err != nil {
				return err
			}
			b.WriteString("</value>")
		}
		b.WriteString("</data></array>")
	case []string:
		items := make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}
		return encodeValue(b, items)
	case map[string]any:
		// Deterministic member order keeps envelopes reproducible.
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		b.WriteString("<struct>")
		for _, key := range keys {
			b.WriteString("<member><name>")
			b.WriteString(escape(key))
			b.WriteString("</name><value>")
			if err := encodeValue(b, v[key]); err != nil {
				return err
			}
			b.WriteString("</value></member>")
		}
		b.WriteString("</struct>")
	case map[string]string:
		converted := make(map[string]any, len(v))
		for key, item := range v {
			converted[key] = item
		}
		return encodeValue(b, converted)
	default:
		return fmt.Errorf("unsupported envelope value type %T", value)
	}
	return nil
}

// DecodeResponse extracts the single result value from a methodResponse.
//
// The parser is deliberately narrow: it decodes the scalar shapes callers
// actually use (int, string, boolean, double) and returns an empty slice for
// array or struct results. A fault element decodes to *Fault.
func DecodeResponse(body []byte) (any, error) {
	text := string(body)

	if strings.Contains(text, "<fault>") {
		return nil, decodeFault(text)
	}

	start := strings.Index(text, "<value>")
	if start < 0 {
		return nil, fmt.Errorf("malformed response: no value element")
	}
	rest := text[start+len("<value>"):]

	// Dispatch on the element that opens the value. A composite whose first
	// member is a scalar must not be misread as that scalar.
	switch openingTag(rest) {
	case "nil":
		return nil, nil
	case "array", "struct":
		// Composite results are not decoded; callers only rely on the
		// scalar create/authenticate shapes.
		return []any{}, nil
	case "boolean":
		raw, _ := between(rest, "<boolean>", "</boolean>")
		return strings.TrimSpace(raw) == "1", nil
	case "int":
		raw, _ := between(rest, "<int>", "</int>")
		return parseInt(raw)
	case "i4":
		raw, _ := between(rest, "<i4>", "</i4>")
		return parseInt(raw)
	case "double":
		raw, _ := between(rest, "<double>", "</double>")
		parsed, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("malformed double: %w", err)
		}
		return parsed, nil
	case "string":
		raw, _ := between(rest, "<string>", "</string>")
		return unescape(raw), nil
	default:
		// Untagged value content is a string per the protocol grammar.
		raw, ok := between(text, "<value>", "</value>")
		if !ok {
			return nil, fmt.Errorf("malformed response: unterminated value")
		}
		return unescape(strings.TrimSpace(raw)), nil
	}
}

// openingTag returns the name of the first element inside a value body, or
// "" when the content is untagged text.
func openingTag(rest string) string {
	trimmed := strings.TrimLeft(rest, " \t\r\n")
	if !strings.HasPrefix(trimmed, "<") || strings.HasPrefix(trimmed, "</") {
		return ""
	}
	end := strings.IndexByte(trimmed, '>')
	if end < 0 {
		return ""
	}
	return strings.TrimSuffix(trimmed[1:end], "/")
}

func decodeFault(text string) *Fault {
	fault := &Fault{Code: -1, Message: "unknown fault"}

	if raw, ok := between(text, "<int>", "</int>"); ok {
		if code, err := parseInt(raw); err == nil {
			fault.Code = int(code)
		}
	}
	if raw, ok := between(text, "<string>", "</string>"); ok {
		fault.Message = unescape(raw)
	}
	return fault
}

func parseInt(raw string) (int64, error) {
	parsed, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed int: %w", err)
	}
	return parsed, nil
}

func between(text, openTag, closeTag string) (string, bool) {
	start := strings.Index(text, openTag)
	if start < 0 {
		return "", false
	}
	rest := text[start+len(openTag):]
	end := strings.Index(rest, closeTag)
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

var unescaper = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&amp;", "&",
)

func escape(text string) string {
	return escaper.Replace(text)
}

func unescape(text string) string {
	return unescaper.Replace(text)
}
