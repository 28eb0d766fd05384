package cache

import (
	"fmt"
	"sort"
	"strings"
)

// Key identifies a forwarded request: the command and its parameters.
type Key struct {
	Command string
	Params  map[string]any
}

// fields that never change the answer of the node
var ignoredParams = map[string]bool{
	"command":     true,
	"method":      true,
	"id":          true,
	"api_version": true,
}

// String generates a deterministic cache key string.
// Format: clio:forward:command:param1=val1:param2=val2
//
// Example:
//
//	clio:forward:fee
//	clio:forward:account_info:account=rHb9...:queue=true
func (k Key) String() string {
	parts := []string{"clio", "forward", k.Command}

	names := make([]string, 0, len(k.Params))
	for name := range k.Params {
		if !ignoredParams[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%v", name, k.Params[name]))
	}

	return strings.Join(parts, ":")
}

// HasParams reports whether the request carries parameters that affect
// the answer.
func (k Key) HasParams() bool {
	for name := range k.Params {
		if !ignoredParams[name] {
			return true
		}
	}
	return false
}
