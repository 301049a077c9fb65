package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/parser"
)

// Fingerprinter derives cache keys from requests. Only the configured
// context fields take part in the key; the trace id never does.
type Fingerprinter struct {
	ContextFields []string
}

// Fingerprint returns the hex SHA-256 key of a request. fields holds the
// request's context values by name; names not in ContextFields are ignored.
func (f Fingerprinter) Fingerprint(query, operationName string, variables map[string]interface{}, fields map[string]string) string {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}

	write(NormalizeQuery(query))
	write(operationName)
	write(canonicalJSON(variables))

	names := append([]string(nil), f.ContextFields...)
	sort.Strings(names)
	for _, name := range names {
		write(name + "=" + fields[name])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeQuery returns a canonical form of a query document. Documents
// that do not parse are whitespace collapsed.
func NormalizeQuery(query string) string {
	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil {
		return strings.Join(strings.Fields(query), " ")
	}
	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatQueryDocument(doc)
	return buf.String()
}

// OperationOf returns the operation kind of the selected operation, or ""
// when the document does not parse or the operation is not found.
func OperationOf(query, operationName string) ast.Operation {
	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil {
		return ""
	}
	if operationName == "" {
		if len(doc.Operations) == 1 {
			return doc.Operations[0].Operation
		}
		return ""
	}
	if op := doc.Operations.ForName(operationName); op != nil {
		return op.Operation
	}
	return ""
}

// canonicalJSON encodes v with sorted map keys.
func canonicalJSON(v map[string]interface{}) string {
	if len(v) == 0 {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
