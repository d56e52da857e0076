package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// objectIDLiteral matches MongoDB shell's ObjectId("...") constructor
// syntax so shell users can paste familiar filters/documents. modb's
// _id is a plain string (see internal/store.newObjectID), so the
// literal is rewritten to its bare quoted argument before decoding.
var objectIDLiteral = regexp.MustCompile(`ObjectId\(\s*"([^"]*)"\s*\)`)

// DecodeDocument parses a JSON (or extended-JSON with ObjectId(...)
// literals) document/filter argument into a generic map.
func DecodeDocument(s string) (map[string]any, error) {
	rewritten := objectIDLiteral.ReplaceAll([]byte(s), []byte(`"$1"`))

	var doc map[string]any
	if err := json.Unmarshal(rewritten, &doc); err != nil {
		return nil, fmt.Errorf("invalid document: %w", err)
	}
	return doc, nil
}
