package httpapi

import (
	"encoding/pem"
	"fmt"
)

// pemToDER decodes a single PEM block of the expected type and returns
// its DER bytes.
func pemToDER(pemStr, expectedType string) ([]byte, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if block.Type != expectedType {
		return nil, fmt.Errorf("unexpected PEM block type %q, expected %q", block.Type, expectedType)
	}
	return block.Bytes, nil
}
