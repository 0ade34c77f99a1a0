package strategy

import (
	"encoding/json"
	"sort"

	"github.com/invopop/jsonschema"

	"github.com/harborquant/cta-engine/pkg/errors"
)

// builtins maps strategy names to their factories.
var builtins = map[string]Factory{
	"double_ma": NewDoubleMA,
	"macd":      NewMACD,
}

// Lookup returns the factory for a built-in strategy name.
func Lookup(name string) (Factory, error) {
	factory, ok := builtins[name]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeStrategyNotFound, "unknown strategy %s", name)
	}

	return factory, nil
}

// Builtins lists the available strategy names, sorted.
func Builtins() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// ParamsSchema returns the JSON schema of a strategy's Params struct so
// operator tooling can render and validate configuration forms.
func ParamsSchema(name string) (string, error) {
	factory, err := Lookup(name)
	if err != nil {
		return "", err
	}

	r := new(jsonschema.Reflector)
	r.DoNotReference = true
	schema := r.Reflect(factory().Params())

	encoded, err := json.Marshal(schema)
	if err != nil {
		return "", errors.Wrapf(errors.ErrCodeInvalidParameter, err, "failed to encode schema for %s", name)
	}

	return string(encoded), nil
}
