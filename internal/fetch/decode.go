package fetch

import (
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Decode interprets a successful response body.
//
// A JSON content type must parse. Anything else is parsed as JSON when
// possible; failing that, when salvageKey is set, the first flat object
// containing that key is extracted from the text. The last resort is
// {"raw": text}.
func Decode(contentType string, body []byte, salvageKey string) (Payload, error) {
	if strings.Contains(strings.ToLower(contentType), "json") {
		p, err := parse(body)
		if err != nil {
			return nil, fmt.Errorf("invalid JSON body: %w", err)
		}
		return p, nil
	}

	if p, err := parse(body); err == nil {
		return p, nil
	}

	text := string(body)
	if salvageKey != "" {
		if p, ok := salvage(text, salvageKey); ok {
			return p, nil
		}
	}

	return Payload{"raw": text}, nil
}

func parse(body []byte) (Payload, error) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, err
	}
	if m, ok := v.(map[string]any); ok {
		return Payload(m), nil
	}

	return Payload{"data": v}, nil
}

func salvage(text, key string) (Payload, bool) {
	re := regexp.MustCompile(`\{[^{}]*"` + regexp.QuoteMeta(key) + `"[^{}]*\}`)
	match := re.FindString(text)
	if match == "" {
		return nil, false
	}

	p, err := parse([]byte(match))
	if err != nil {
		return nil, false
	}

	return p, true
}
