package wire

import (
	"errors"
	"strings"
	"testing"
)

func responseFor(t *testing.T, value any) []byte {
	t.Helper()

	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><methodResponse><params><param><value>`)
	if err := encodeValue(&b, value); err != nil {
		t.Fatalf("encodeValue(%v) error = %v", value, err)
	}
	b.WriteString("</value></param></params></methodResponse>")
	return []byte(b.String())
}

func TestScalarRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		value any
		want  any
	}{
		{"int", int64(42), int64(42)},
		{"negative int", int64(-7), int64(-7)},
		{"boolean true", true, true},
		{"boolean false", false, false},
		{"double", 3.25, 3.25},
		{"plain string", "hello", "hello"},
		{"string with markup", `a <b> & "c" 'd'`, `a <b> & "c" 'd'`},
		{"nil", nil, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := DecodeResponse(responseFor(t, tc.value))
			if err != nil {
				t.Fatalf("DecodeResponse() error = %v", err)
			}
			if got != tc.want {
				t.Fatalf("round trip = %v (%T), want %v (%T)", got, got, tc.want, tc.want)
			}
		})
	}
}

func TestCompositeResultsDecodeEmpty(t *testing.T) {
	t.Parallel()

	for _, value := range []any{
		[]any{int64(1), int64(2), int64(3)},
		map[string]any{"id": int64(9), "name": "ticket"},
	} {
		got, err := DecodeResponse(responseFor(t, value))
		if err != nil {
			t.Fatalf("DecodeResponse() error = %v", err)
		}
		slice, ok := got.([]any)
		if !ok || len(slice) != 0 {
			t.Fatalf("composite decode = %v (%T), want empty slice", got, got)
		}
	}
}

func TestCompositeWithLeadingScalarMemberDecodesEmpty(t *testing.T) {
	t.Parallel()

	// The first member is a scalar; the dispatch must still see the
	// enclosing composite, not the inner int.
	body := []byte(`<?xml version="1.0"?><methodResponse><params><param><value>
	<array><data>
		<value><int>1</int></value>
		<value><string>two</string></value>
	</data></array>
</value></param></params></methodResponse>`)

	got, err := DecodeResponse(body)
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	slice, ok := got.([]any)
	if !ok || len(slice) != 0 {
		t.Fatalf("composite decode = %v (%T), want empty slice", got, got)
	}
}

func TestEncodeCallEnvelopeShape(t *testing.T) {
	t.Parallel()

	envelope, err := EncodeCall("authenticate", "acme", "svc", "p<w", map[string]any{})
	if err != nil {
		t.Fatalf("EncodeCall() error = %v", err)
	}
	text := string(envelope)

	for _, fragment := range []string{
		"<methodCall><methodName>authenticate</methodName><params>",
		"<string>acme</string>",
		"<string>p&lt;w</string>",
		"<struct></struct>",
		"</params></methodCall>",
	} {
		if !strings.Contains(text, fragment) {
			t.Fatalf("envelope missing %q:\n%s", fragment, text)
		}
	}
}

func TestEncodeNestedStruct(t *testing.T) {
	t.Parallel()

	envelope, err := EncodeCall("create", map[string]any{
		"name":     "Refund order 42",
		"priority": int64(1),
		"tags":     []any{"refund", "auto"},
		"meta":     map[string]any{"seal": "abc&def"},
	})
	if err != nil {
		t.Fatalf("EncodeCall() error = %v", err)
	}
	text := string(envelope)

	for _, fragment := range []string{
		"<member><name>name</name><value><string>Refund order 42</string></value></member>",
		"<member><name>priority</name><value><int>1</int></value></member>",
		"<array><data><value><string>refund</string></value><value><string>auto</string></value></data></array>",
		"<string>abc&amp;def</string>",
	} {
		if !strings.Contains(text, fragment) {
			t.Fatalf("envelope missing %q:\n%s", fragment, text)
		}
	}
}

func TestEncodeRejectsUnsupportedType(t *testing.T) {
	t.Parallel()

	if _, err := EncodeCall("create", struct{ X int }{1}); err == nil {
		t.Fatal("EncodeCall() accepted unsupported type")
	}
}

func TestDecodeFault(t *testing.T) {
	t.Parallel()

	body := []byte(`<?xml version="1.0"?><methodResponse><fault><value><struct>
<member><name>faultCode</name><value><int>2</int></value></member>
<member><name>faultString</name><value><string>Access denied &amp; logged</string></value></member>
</struct></value></fault></methodResponse>`)

	_, err := DecodeResponse(body)
	var fault *Fault
	if !errors.As(err, &fault) {
		t.Fatalf("DecodeResponse() error = %v, want *Fault", err)
	}
	if fault.Code != 2 {
		t.Fatalf("fault code = %d", fault.Code)
	}
	if fault.Message != "Access denied & logged" {
		t.Fatalf("fault message = %q", fault.Message)
	}
}

func TestDecodeMalformedBody(t *testing.T) {
	t.Parallel()

	if _, err := DecodeResponse([]byte("<html>not xmlrpc</html>")); err == nil {
		t.Fatal("DecodeResponse() accepted body without value element")
	}
}
