package strategy

import (
	"fmt"
	"sort"
)

// squashes holds the selectable squash functions by config name.
var squashes = map[string]SquashFunc{
	"logistic": Logistic,
	"tanh":     Tanh,
}

// SquashByName looks up a squash function. It returns an error when the
// name is not registered.
func SquashByName(name string) (SquashFunc, error) {
	f, ok := squashes[name]
	if !ok {
		return nil, fmt.Errorf("squash %q: not registered", name)
	}
	return f, nil
}

// SquashNames returns the registered squash names in sorted order.
func SquashNames() []string {
	names := make([]string, 0, len(squashes))
	for n := range squashes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
