package shipper

import (
	"fmt"
	"os"
	"strings"
)

// parseOnePasswordRef parses an "op://vault/item" style reference into
// its vault ID and item title. Both segments are required.
func parseOnePasswordRef(ref string) (vaultID, itemTitle string, err error) {
	if !strings.HasPrefix(ref, "op://") {
		return "", "", fmt.Errorf("secret source %q must look like op://vault/item", ref)
	}
	trimmed := strings.TrimPrefix(ref, "op://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("secret source %q must look like op://vault/item", ref)
	}
	return parts[0], parts[1], nil
}

func envOrEmpty(key string) string {
	return os.Getenv(key)
}
