package versionstore

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Binding argument keys of a version record
const (
	ArgType        = "@type"
	ArgTargetName  = "target_name"
	ArgVersion     = "version"
	ArgCreatedDate = "created_date"
)

// TypeStructureVersion tags bindings written by this store
const TypeStructureVersion = "structure_version"

// EncodeArguments returns the binding arguments recording v
func EncodeArguments(v StructureVersion) amqp.Table {
	return amqp.Table{
		ArgType:        TypeStructureVersion,
		ArgTargetName:  v.TargetName,
		ArgVersion:     int64(v.Version),
		ArgCreatedDate: v.CreatedDate.UTC().Format(time.RFC3339Nano),
	}
}

// DecodeArguments reads a version record from binding arguments as returned
// by the management API. Missing fields decode to their zero value.
func DecodeArguments(args map[string]any) (StructureVersion, error) {
	var v StructureVersion

	if name, ok := args[ArgTargetName]; ok {
		s, ok := name.(string)
		if !ok {
			return v, fmt.Errorf("target_name must be a string, got %T", name)
		}
		v.TargetName = s
	}

	version, err := decodeVersion(args[ArgVersion])
	if err != nil {
		return v, err
	}
	v.Version = version

	if raw, ok := args[ArgCreatedDate]; ok && raw != nil {
		s, ok := raw.(string)
		if !ok {
			return v, fmt.Errorf("created_date must be a string, got %T", raw)
		}
		if s != "" {
			created, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return v, fmt.Errorf("invalid created_date %q: %w", s, err)
			}
			v.CreatedDate = created
		}
	}

	return v, nil
}

func decodeVersion(raw any) (int, error) {
	switch n := raw.(type) {
	case nil:
		return 0, nil
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("version must be an integer, got %v", n)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("version must be an integer: %w", err)
		}
		return int(i), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("version must be an integer: %w", err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("version must be an integer, got %T", raw)
	}
}

// tableFromAPI converts JSON-decoded binding arguments into a table the
// broker will match against the stored binding. Whole numbers become int64,
// the type they were written with.
func tableFromAPI(args map[string]any) amqp.Table {
	table := make(amqp.Table, len(args))
	for k, v := range args {
		switch n := v.(type) {
		case float64:
			if n == math.Trunc(n) && math.Abs(n) < math.MaxInt64 {
				table[k] = int64(n)
				continue
			}
			table[k] = n
		case json.Number:
			if i, err := n.Int64(); err == nil {
				table[k] = i
				continue
			}
			f, _ := n.Float64()
			table[k] = f
		default:
			table[k] = v
		}
	}
	return table
}

// argumentsKey is a canonical form of a table used to deduplicate unbinds
func argumentsKey(table amqp.Table) string {
	var b strings.Builder
	for _, k := range slices.Sorted(maps.Keys(table)) {
		fmt.Fprintf(&b, "%s=%T:%v;", k, table[k], table[k])
	}
	return b.String()
}
