package hcl_adapter

import (
	"strings"

	"github.com/zclconf/go-cty/cty"
)

// envVariables exposes the process environment to expressions as the `env`
// object, so `env.SF_TOKEN` reads the SF_TOKEN variable.
func envVariables(environ []string) map[string]cty.Value {
	vars := make(map[string]cty.Value, len(environ))
	for _, e := range environ {
		key, value, ok := strings.Cut(e, "=")
		if !ok || key == "" {
			continue
		}
		vars[key] = cty.StringVal(value)
	}
	if len(vars) == 0 {
		return map[string]cty.Value{"env": cty.EmptyObjectVal}
	}
	return map[string]cty.Value{"env": cty.ObjectVal(vars)}
}
