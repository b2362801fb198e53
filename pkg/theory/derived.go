package theory

// extractionContext is a short-lived bundle of the objects a derived
// parameter can be resolved from. It is not persisted beyond building the
// slot's derived scalars.
type extractionContext struct {
	params ParamSet
	result Result
	table  map[string]float64
}

// derivedStrategy is one named, pure resolution step. Strategies run in
// order; the first non-missing match wins.
type derivedStrategy struct {
	name    string
	resolve func(ctx extractionContext, name string) (float64, bool)
}

var derivedStrategies = []derivedStrategy{
	{"special", resolveSpecialCase},
	{"table", resolveFromTable},
	{"result", resolveFromResult},
	{"params", resolveFromParamGetter},
}

// resolveSpecialCase handles quantities that are absent from the solver's
// derived-parameter table and need a dedicated getter.
func resolveSpecialCase(ctx extractionContext, name string) (float64, bool) {
	if name != "sigma8" || ctx.result == nil {
		return 0, false
	}

	sigma8, err := ctx.result.Sigma8()
	if err != nil || len(sigma8) == 0 {
		return 0, false
	}

	// Solver order is descending redshift; the last element is today's.
	return sigma8[len(sigma8)-1], true
}

func resolveFromTable(ctx extractionContext, name string) (float64, bool) {
	value, ok := ctx.table[name]

	return value, ok
}

func resolveFromResult(ctx extractionContext, name string) (float64, bool) {
	if ctx.result == nil {
		return 0, false
	}

	return ctx.result.Derived(name)
}

func resolveFromParamGetter(ctx extractionContext, name string) (float64, bool) {
	if ctx.params == nil {
		return 0, false
	}

	return ctx.params.Derived(name)
}

// extractDerived resolves every declared derived parameter into slot i,
// then keeps the rest of the solver's derived table as extras. An
// unresolvable declared name is fatal and names the parameter.
func (e *Engine) extractDerived(i int, ps ParamSet, res Result) error {
	ctx := extractionContext{params: ps, result: res}
	if res != nil {
		ctx.table = res.DerivedTable()
	}

	slot := &e.pool.slots[i]

	for _, name := range e.derivedNames {
		resolved := false

		for _, strategy := range derivedStrategies {
			if value, ok := strategy.resolve(ctx, name); ok {
				slot.derived[name] = value
				resolved = true

				break
			}
		}

		if !resolved {
			return &DerivedError{Name: name}
		}
	}

	// Undeclared table entries stay reachable through [Engine.Param]
	// without becoming part of the evaluation output.
	for name, value := range ctx.table {
		if _, ok := slot.derived[name]; !ok {
			slot.derivedExtra[name] = value
		}
	}

	return nil
}
