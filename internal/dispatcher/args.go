package dispatcher

import (
	"strconv"
	"strings"

	"vmark.io/vmark-node/internal/xerr"
)

// flagArgs is the result of parsing a verb's trailing key/value tokens.
// Boolean switches (e.g. "do-not-fragment") are recorded with an empty
// value and true in bools.
type flagArgs struct {
	values map[string]string
	bools  map[string]bool
}

// boolFlags names every switch that takes no value.
var boolFlags = map[string]bool{
	"do-not-fragment": true,
	"json":            true,
}

// parseFlags walks a dispatcher verb's remaining tokens as "key value"
// pairs, except for names in boolFlags, which are recorded bare.
func parseFlags(tokens []string) flagArgs {
	fa := flagArgs{values: map[string]string{}, bools: map[string]bool{}}
	for i := 0; i < len(tokens); i++ {
		key := tokens[i]
		if boolFlags[key] {
			fa.bools[key] = true
			continue
		}
		if i+1 >= len(tokens) {
			break
		}
		fa.values[key] = tokens[i+1]
		i++
	}
	return fa
}

func (fa flagArgs) get(key string) (string, bool) {
	v, ok := fa.values[key]
	return v, ok
}

func (fa flagArgs) require(key string) (string, error) {
	v, ok := fa.values[key]
	if !ok || v == "" {
		return "", xerr.Errorf(xerr.KindValidation, "missing required argument %q", key)
	}
	return v, nil
}

func (fa flagArgs) getInt(key string, def int) (int, error) {
	v, ok := fa.values[key]
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, xerr.Errorf(xerr.KindValidation, "argument %q must be an integer, got %q", key, v)
	}
	return n, nil
}

func (fa flagArgs) requireInt(key string) (int, error) {
	v, err := fa.require(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, xerr.Errorf(xerr.KindValidation, "argument %q must be an integer, got %q", key, v)
	}
	return n, nil
}

func (fa flagArgs) flag(name string) bool {
	return fa.bools[name]
}

func uint16Ptr(v int) *uint16 {
	u := uint16(v)
	return &u
}

func trimmedFields(line string) []string {
	return strings.Fields(line)
}
