package chains

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// Library placeholder pattern: __$<34 hex chars>$__
var libraryPlaceholder = regexp.MustCompile(`__\$[a-fA-F0-9]{34}\$__`)

// HasLibraryPlaceholders checks if a hex bytecode object contains unlinked
// library placeholders.
func HasLibraryPlaceholders(object string) bool {
	return libraryPlaceholder.MatchString(object)
}

// DecodeBytecode decodes a hex bytecode object, replacing unlinked library
// placeholders with zero addresses. It returns the offsets of every
// placeholder found.
func DecodeBytecode(object string) ([]byte, []CodeRange, error) {
	object = strings.TrimPrefix(strings.TrimSpace(object), "0x")
	var refs []CodeRange
	for _, loc := range libraryPlaceholder.FindAllStringIndex(object, -1) {
		refs = append(refs, CodeRange{Start: loc[0] / 2, Length: (loc[1] - loc[0]) / 2})
	}
	if len(refs) > 0 {
		object = libraryPlaceholder.ReplaceAllString(object, strings.Repeat("0", 40))
	}
	code, err := hex.DecodeString(object)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding bytecode: %w", err)
	}
	return code, refs, nil
}
