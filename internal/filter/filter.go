// Package filter evaluates the search expression language applied to
// ledger query results. An expression is a set of AND-combined
// predicates "entity:field:value", optionally unioned with "-OR-";
// predicates on a related entity resolve it through an extra ledger
// query keyed by the reference embedded in the record.
package filter

import (
	"context"
	"fmt"
	"strings"

	"github.com/chainml/asset-registry/internal/ledger"
)

// SyntaxError reports a malformed filter expression. A client error,
// never a server fault.
type SyntaxError struct {
	Fragment string
	Reason   string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("malformed search filter %q: %s", e.Fragment, e.Reason)
}

// queryFcn maps an entity name to its single-object chaincode query.
var queryFcn = map[string]string{
	"dataset":    "queryDataset",
	"algo":       "queryAlgo",
	"objective":  "queryObjective",
	"model":      "queryModel",
	"traintuple": "queryTraintuple",
}

// relations maps asset type -> related entity -> the record field
// holding the related entity's key.
var relations = map[string]map[string]string{
	"dataset": {
		"objective": "objectiveKey",
	},
	"algo": {
		"objective": "objectiveKey",
		"dataset":   "datasetKey",
	},
	"model": {
		"algo":      "algoKey",
		"objective": "objectiveKey",
	},
	"traintuple": {
		"algo":      "algoKey",
		"dataset":   "datasetKey",
		"objective": "objectiveKey",
	},
	"objective": {},
}

// predicate is one parsed entity:field:value clause.
type predicate struct {
	entity string
	field  string
	value  string
}

// Engine applies filter expressions, resolving cross-entity predicates
// through the ledger.
type Engine struct {
	ledger ledger.Client
}

// NewEngine builds a filter engine over a ledger client.
func NewEngine(c ledger.Client) *Engine {
	return &Engine{ledger: c}
}

// Apply filters records of assetType by the expression. An empty
// expression returns the records unchanged.
func (e *Engine) Apply(ctx context.Context, assetType string, records []map[string]any, expr string) ([]map[string]any, error) {
	if strings.TrimSpace(expr) == "" {
		return records, nil
	}

	groups, err := parse(assetType, expr)
	if err != nil {
		return nil, err
	}

	// Resolved related entities, shared across groups so each
	// reference is queried at most once per Apply.
	resolved := make(map[string]map[string]any)

	var out []map[string]any
	for _, rec := range records {
		keep := false
		for _, group := range groups {
			ok, err := e.matchGroup(ctx, assetType, rec, group, resolved)
			if err != nil {
				return nil, err
			}
			if ok {
				keep = true
				break
			}
		}
		if keep {
			out = append(out, rec)
		}
	}
	return out, nil
}

// parse splits an expression into OR-groups of AND-predicates and
// validates every fragment up front.
func parse(assetType, expr string) ([][]predicate, error) {
	var groups [][]predicate
	for _, groupExpr := range strings.Split(expr, "-OR-") {
		var group []predicate
		for _, fragment := range strings.Split(groupExpr, ",") {
			fragment = strings.TrimSpace(fragment)
			if fragment == "" {
				continue
			}

			parts := strings.SplitN(fragment, ":", 3)
			if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
				return nil, &SyntaxError{Fragment: fragment, Reason: "want entity:field:value"}
			}

			p := predicate{entity: parts[0], field: parts[1], value: parts[2]}
			if _, known := queryFcn[p.entity]; !known {
				return nil, &SyntaxError{Fragment: fragment, Reason: "unknown entity " + p.entity}
			}
			if p.entity != assetType {
				if _, ok := relations[assetType][p.entity]; !ok {
					return nil, &SyntaxError{
						Fragment: fragment,
						Reason:   fmt.Sprintf("cannot filter %s by %s", assetType, p.entity),
					}
				}
			}
			group = append(group, p)
		}
		if len(group) > 0 {
			groups = append(groups, group)
		}
	}
	if len(groups) == 0 {
		return nil, &SyntaxError{Fragment: expr, Reason: "empty expression"}
	}
	return groups, nil
}

// matchGroup reports whether a record satisfies every predicate of a
// group.
func (e *Engine) matchGroup(ctx context.Context, assetType string, rec map[string]any, group []predicate, resolved map[string]map[string]any) (bool, error) {
	for _, p := range group {
		target := rec
		if p.entity != assetType {
			keyField := relations[assetType][p.entity]
			key, ok := lookup(rec, keyField)
			if !ok {
				return false, nil
			}
			related, err := e.resolve(ctx, p.entity, fmt.Sprint(key), resolved)
			if err != nil {
				return false, err
			}
			if related == nil {
				return false, nil
			}
			target = related
		}

		got, ok := lookup(target, p.field)
		// Exact match only; there are no prefix or substring forms.
		if !ok || fmt.Sprint(got) != p.value {
			return false, nil
		}
	}
	return true, nil
}

// resolve fetches a related entity by key, memoizing per Apply call.
func (e *Engine) resolve(ctx context.Context, entity, key string, resolved map[string]map[string]any) (map[string]any, error) {
	cacheKey := entity + ":" + key
	if obj, ok := resolved[cacheKey]; ok {
		return obj, nil
	}

	obj, err := ledger.QueryObject(ctx, e.ledger, queryFcn[entity], key)
	if err != nil {
		if lerr, ok := ledger.AsError(err); ok && lerr.Kind == ledger.KindGeneric {
			// A dangling reference filters the record out rather than
			// failing the whole query.
			resolved[cacheKey] = nil
			return nil, nil
		}
		return nil, err
	}
	resolved[cacheKey] = obj
	return obj, nil
}

// lookup walks a dotted field path through nested maps.
func lookup(rec map[string]any, path string) (any, bool) {
	cur := any(rec)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
