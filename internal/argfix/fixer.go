// Package argfix implements the ArgumentFixer: fuzzy repair of tool-call
// argument names against a tool's declared JSON Schema, for the case where
// an LLM supplies a parameter under a slightly different name than the one
// the tool actually expects.
package argfix

import "sort"

// DefaultThreshold is the minimum similarity ratio for an automatic
// parameter-name mapping to be accepted.
const DefaultThreshold = 0.2

// Fixer repairs mismatched tool-call argument names using Ratcliff/Obershelp
// similarity, the same strategy (and default threshold) as the federation
// this protocol descends from.
type Fixer struct {
	Threshold float64
}

// NewFixer returns a Fixer using DefaultThreshold.
func NewFixer() *Fixer {
	return &Fixer{Threshold: DefaultThreshold}
}

// Fix attempts to repair tool-call args against a tool's expected parameter
// names (from its JSON Schema "properties") and required parameter names
// (from "required"). It returns args unchanged whenever no fix is needed,
// a mapping cannot be found, or required parameters still end up missing
// after fuzzy matching — fix() is always safe to call speculatively.
//
// Three stages, tried in order:
//  1. if every required param is already present, return args unchanged.
//  2. if there is exactly one required param and exactly one supplied
//     key, try mapping that single pair directly.
//  3. otherwise, greedily assign supplied keys to expected params by
//     descending similarity, exact matches pinned first.
func (f *Fixer) Fix(args map[string]any, expectedParams, requiredParams []string) map[string]any {
	if len(expectedParams) == 0 || len(args) == 0 {
		return args
	}

	if requiredSatisfied(args, requiredParams) {
		return args
	}

	if len(requiredParams) == 1 && len(args) == 1 {
		if fixed := f.trySingleParamMapping(requiredParams[0], args); fixed != nil {
			return fixed
		}
	}

	return f.applyFuzzyMatching(args, expectedParams, requiredParams)
}

func requiredSatisfied(args map[string]any, required []string) bool {
	for _, p := range required {
		if _, ok := args[p]; !ok {
			return false
		}
	}
	return true
}

// trySingleParamMapping handles the common one-required/one-supplied case
// directly, without going through the general fuzzy-matching machinery.
func (f *Fixer) trySingleParamMapping(requiredParam string, args map[string]any) map[string]any {
	var inputKey string
	var inputValue any
	for k, v := range args {
		inputKey, inputValue = k, v
	}

	if inputKey == requiredParam {
		return map[string]any{requiredParam: inputValue}
	}

	if Ratio(inputKey, requiredParam) >= f.Threshold {
		return map[string]any{requiredParam: inputValue}
	}
	return nil
}

type candidateMatch struct {
	similarity float64
	expected   string
	input      string
}

// applyFuzzyMatching pins exact name matches first, then greedily assigns
// the remaining supplied keys to remaining expected params in descending
// similarity order, never reusing an expected param or a supplied key twice.
// Falls back to the original, unfixed args if required params are still
// missing once matching settles.
func (f *Fixer) applyFuzzyMatching(args map[string]any, expectedParams, requiredParams []string) map[string]any {
	fixed := make(map[string]any)
	matchedExpected := make(map[string]bool)
	remaining := make(map[string]any)

	expectedSet := make(map[string]bool, len(expectedParams))
	for _, p := range expectedParams {
		expectedSet[p] = true
	}

	// Stage 3.1: exact matches first. Iterate supplied keys in sorted order
	// so ties downstream resolve deterministically.
	inputKeys := make([]string, 0, len(args))
	for k := range args {
		inputKeys = append(inputKeys, k)
	}
	sort.Strings(inputKeys)

	for _, k := range inputKeys {
		if expectedSet[k] {
			fixed[k] = args[k]
			matchedExpected[k] = true
		} else {
			remaining[k] = args[k]
		}
	}

	var unmatchedExpected []string
	for _, p := range expectedParams {
		if !matchedExpected[p] {
			unmatchedExpected = append(unmatchedExpected, p)
		}
	}

	remainingKeys := make([]string, 0, len(remaining))
	for k := range remaining {
		remainingKeys = append(remainingKeys, k)
	}
	sort.Strings(remainingKeys)

	if len(remainingKeys) > 0 && len(unmatchedExpected) > 0 {
		var candidates []candidateMatch
		for _, inputKey := range remainingKeys {
			for _, expected := range unmatchedExpected {
				sim := Ratio(inputKey, expected)
				if sim >= f.Threshold {
					candidates = append(candidates, candidateMatch{sim, expected, inputKey})
				}
			}
		}

		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].similarity > candidates[j].similarity
		})

		usedInput := make(map[string]bool)
		for _, c := range candidates {
			if matchedExpected[c.expected] || usedInput[c.input] {
				continue
			}
			fixed[c.expected] = remaining[c.input]
			matchedExpected[c.expected] = true
			usedInput[c.input] = true
		}
	}

	if requiredSatisfied(fixed, requiredParams) {
		return fixed
	}
	return args
}
