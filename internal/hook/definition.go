package hook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Definition is a hook as written in the configuration file.
type Definition struct {
	Comment string            `json:"comment,omitempty" yaml:"comment"`
	Mailto  string            `json:"mailto" yaml:"mailto"`
	Accept  []string          `json:"accept,omitempty" yaml:"accept"`
	Deny    []string          `json:"deny,omitempty" yaml:"deny"`
	Replace Replacements      `json:"replace,omitempty" yaml:"replace"`
	Target  string            `json:"target" yaml:"target"`
	Method  string            `json:"method,omitempty" yaml:"method"`
	Body    Body              `json:"body" yaml:"body"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers"`
	AWS     *AWSSigning       `json:"aws,omitempty" yaml:"aws"`
}

// AWSSigning asks for the outbound request to be signed with AWS
// Signature Version 4. Without static keys the default AWS credential
// chain is used.
type AWSSigning struct {
	Region          string `json:"region" yaml:"region"`
	Service         string `json:"service" yaml:"service"`
	AccessKeyID     string `json:"accessKeyId,omitempty" yaml:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey,omitempty" yaml:"secretAccessKey"`
	SessionToken    string `json:"sessionToken,omitempty" yaml:"sessionToken"`
}

// Replacement is one entry of a hook's replace mapping.
type Replacement struct {
	Pattern string
	Value   string
}

// Replacements keeps the replace mapping in the order it was written.
type Replacements []Replacement

func (r *Replacements) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*r = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("replace must be an object of pattern to replacement")
	}

	var out Replacements
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key := tok.(string)

		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("replace[%q]: %w", key, err)
		}
		out = append(out, Replacement{Pattern: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*r = out
	return nil
}

func (r *Replacements) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: replace must be a mapping of pattern to replacement", value.Line)
	}

	out := make(Replacements, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		var key, val string
		if err := value.Content[i].Decode(&key); err != nil {
			return err
		}
		if err := value.Content[i+1].Decode(&val); err != nil {
			return fmt.Errorf("replace[%q]: %w", key, err)
		}
		out = append(out, Replacement{Pattern: key, Value: val})
	}

	*r = out
	return nil
}

// Body is a hook's payload template: either a plain string used as is, or a
// structured JSON object kept in its compact serialized form.
type Body struct {
	text       string
	structured bool
	set        bool
}

// TextBody returns a Body holding a plain string template.
func TextBody(s string) Body {
	return Body{text: s, set: true}
}

// String returns the textual form of the template.
func (b Body) String() string {
	return b.text
}

// Structured reports whether the template was written as an object.
func (b Body) Structured() bool {
	return b.structured
}

// IsZero reports whether no body was configured.
func (b Body) IsZero() bool {
	return !b.set
}

func (b *Body) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*b = Body{}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*b = TextBody(s)
		return nil
	case data[0] == '{':
		var buf bytes.Buffer
		if err := json.Compact(&buf, data); err != nil {
			return err
		}
		*b = Body{text: buf.String(), structured: true, set: true}
		return nil
	default:
		return fmt.Errorf("body must be a string or an object")
	}
}

func (b *Body) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Tag == "!!null" {
			*b = Body{}
			return nil
		}
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		*b = TextBody(s)
		return nil
	case yaml.MappingNode:
		var buf bytes.Buffer
		if err := writeJSON(&buf, value); err != nil {
			return err
		}
		*b = Body{text: buf.String(), structured: true, set: true}
		return nil
	default:
		return fmt.Errorf("line %d: body must be a string or a mapping", value.Line)
	}
}

// writeJSON serializes a YAML node as compact JSON, keeping mapping keys in
// document order so YAML and JSON configs produce the same body text.
func writeJSON(buf *bytes.Buffer, n *yaml.Node) error {
	switch n.Kind {
	case yaml.AliasNode:
		return writeJSON(buf, n.Alias)
	case yaml.MappingNode:
		buf.WriteByte('{')
		for i := 0; i+1 < len(n.Content); i += 2 {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := marshalNoEscape(n.Content[i].Value)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := writeJSON(buf, n.Content[i+1]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case yaml.SequenceNode:
		buf.WriteByte('[')
		for i, c := range n.Content {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(buf, c); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case yaml.ScalarNode:
		switch n.Tag {
		case "!!null":
			buf.WriteString("null")
		case "!!bool":
			var v bool
			if err := n.Decode(&v); err != nil {
				return err
			}
			buf.WriteString(strconv.FormatBool(v))
		case "!!int", "!!float":
			num, err := jsonNumber(n)
			if err != nil {
				return err
			}
			buf.WriteString(num)
		default:
			s, err := marshalNoEscape(n.Value)
			if err != nil {
				return err
			}
			buf.Write(s)
		}
	default:
		return fmt.Errorf("line %d: unsupported YAML node in body", n.Line)
	}
	return nil
}

// jsonNumber renders a YAML number as a JSON number literal. Scalars that
// already are valid JSON numbers are copied verbatim so large integers and
// exponents keep their exact text. Other YAML spellings such as 0x1F or .5
// are decoded and reformatted.
func jsonNumber(n *yaml.Node) (string, error) {
	if isJSONNumber(n.Value) {
		return n.Value, nil
	}
	if n.Tag == "!!int" {
		var i int64
		if err := n.Decode(&i); err == nil {
			return strconv.FormatInt(i, 10), nil
		}
		var u uint64
		if err := n.Decode(&u); err != nil {
			return "", err
		}
		return strconv.FormatUint(u, 10), nil
	}
	var f float64
	if err := n.Decode(&f); err != nil {
		return "", err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("line %d: %s cannot be represented in JSON", n.Line, n.Value)
	}
	return strconv.FormatFloat(f, 'g', -1, 64), nil
}

func isJSONNumber(s string) bool {
	if s == "" || (s[0] != '-' && (s[0] < '0' || s[0] > '9')) {
		return false
	}
	return json.Valid([]byte(s))
}

// marshalNoEscape encodes s as a JSON string without HTML escaping, matching
// the output of json.Compact on a hand-written config.
func marshalNoEscape(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
