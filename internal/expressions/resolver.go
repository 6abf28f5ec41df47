package expressions

// Variable resolution layer. All step/question identifiers are UUIDs
// internally; scripts and node configs reference user-facing aliases. The
// run's variable map is keyed by canonical id, and an alias map (alias ->
// canonical id) redirects alias lookups.
//
// Contract: when the alias map is absent or incomplete, alias lookups miss
// silently and return nil — they do not error. Callers that forget to supply
// the alias map get nil values, not a failure. This matches the observed
// behavior of every deployed workflow and is covered by tests; changing it
// would break scripts that probe optional variables.

// Resolve looks up key in vars. Two-tier: canonical-id lookup first; if that
// misses and the alias map knows the key, the lookup is redirected to the
// mapped canonical id. Returns nil when neither tier hits.
func Resolve(key string, vars map[string]any, aliasMap map[string]string) any {
	if v, ok := vars[key]; ok {
		return v
	}
	if aliasMap == nil {
		return nil
	}
	id, ok := aliasMap[key]
	if !ok {
		return nil
	}
	return vars[id]
}

// CanonicalKey maps key to its canonical id: aliases resolve through the
// alias map, everything else passes through unchanged.
func CanonicalKey(key string, aliasMap map[string]string) string {
	if id, ok := aliasMap[key]; ok {
		return id
	}
	return key
}

// OverlayAliases builds an expression environment from vars with every known
// alias mirrored onto its canonical value. The input map is not mutated.
// With a nil alias map the environment is a plain copy, so alias references
// in expressions evaluate to nil (undefined), per the resolution contract.
func OverlayAliases(vars map[string]any, aliasMap map[string]string) map[string]any {
	env := make(map[string]any, len(vars)+len(aliasMap))
	for k, v := range vars {
		env[k] = v
	}
	for alias, id := range aliasMap {
		if v, ok := vars[id]; ok {
			env[alias] = v
		}
	}
	return env
}
