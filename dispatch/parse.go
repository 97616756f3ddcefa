package dispatch

import (
	"fmt"
	"regexp"
	"strings"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/js-bridge/errors"
	"github.com/wippyai/js-bridge/value"
)

var (
	modulePattern  = regexp.MustCompile(`(?s)(?:(host|managed)\s+)?module\s+([A-Za-z_][A-Za-z0-9_./:-]*)\s*\{(.*?)\}`)
	funcPattern    = regexp.MustCompile(`(?:export\s+)?([a-zA-Z_][a-zA-Z0-9_-]*)\s*:\s*func\s*\(([^)]*)\)(?:\s*->\s*([^;]+))?\s*;`)
	commentPattern = regexp.MustCompile(`//[^\n]*`)
)

// ParseDeclarations reads signatures from declaration text:
//
//	module greeter {
//	    greet: func(name: string) -> string;
//	    add: func(a: s64 as number, b: s64 as bigint) -> s64 as bigint;
//	    later: func(ms: u32) -> promise<string>;
//	    log: func(...parts: any);
//	    trace: func(level: u8, ...any);
//	}
//
// A block may be prefixed with "host" or "managed"; unprefixed blocks use def.
// Primitive type names follow WIT. The bridge adds any, object, function,
// instant, bigint and promise<T>. Wide integers take "as number" or
// "as bigint".
func ParseDeclarations(text string, def Target) ([]Signature, error) {
	text = commentPattern.ReplaceAllString(text, "")

	blocks := modulePattern.FindAllStringSubmatch(text, -1)
	if len(blocks) == 0 {
		return nil, errors.InvalidInput(errors.PhaseParse, "no module blocks found in declaration text")
	}

	var sigs []Signature
	for _, block := range blocks {
		target := def
		switch block[1] {
		case "host":
			target = TargetHost
		case "managed":
			target = TargetManaged
		}
		module := block[2]

		for _, match := range funcPattern.FindAllStringSubmatch(block[3], -1) {
			sig, err := parseFunc(module, target, match[1], match[2], match[3])
			if err != nil {
				return nil, err
			}
			sigs = append(sigs, sig)
		}
	}

	if len(sigs) == 0 {
		return nil, errors.InvalidInput(errors.PhaseParse, "no functions found in declaration text")
	}
	return sigs, nil
}

func parseFunc(module string, target Target, name, paramsStr, resultStr string) (Signature, error) {
	sig := Signature{Module: module, Name: name, Target: target, Result: value.Void}

	params := splitParams(strings.TrimSpace(paramsStr))
	for i, p := range params {
		typStr, variadic := p, false
		if label, t, ok := strings.Cut(p, ":"); ok {
			typStr = strings.TrimSpace(t)
			variadic = strings.HasPrefix(strings.TrimSpace(label), "...")
		} else if t, ok := strings.CutPrefix(p, "..."); ok {
			typStr, variadic = strings.TrimSpace(t), true
		}
		if variadic {
			if i != len(params)-1 {
				return Signature{}, errors.New(errors.PhaseParse, errors.KindInvalidInput).
					Path(module, name).Detail("only the last parameter may be variadic").Build()
			}
			sig.Variadic = true
		}
		m, err := ParseMapping(typStr)
		if err != nil {
			return Signature{}, errors.AtPath(err, module, name, argName(i))
		}
		sig.Params = append(sig.Params, m)
	}

	resultStr = strings.TrimSpace(resultStr)
	if resultStr != "" && resultStr != "()" {
		m, err := ParseMapping(resultStr)
		if err != nil {
			return Signature{}, errors.AtPath(err, module, name, "result")
		}
		sig.Result = m
	}
	return sig, nil
}

// ParseMapping parses one type expression such as "u32", "s64 as bigint" or
// "promise<string>".
func ParseMapping(s string) (value.Mapping, error) {
	s = strings.TrimSpace(s)

	if inner, ok := strings.CutPrefix(s, "promise<"); ok {
		inner, ok = strings.CutSuffix(inner, ">")
		if !ok {
			return value.Mapping{}, errors.ParseFailed("type "+s, fmt.Errorf("unterminated promise type"))
		}
		elem, err := ParseMapping(inner)
		if err != nil {
			return value.Mapping{}, err
		}
		return value.PendingOf(elem), nil
	}

	base, rep, hasRep := strings.Cut(s, " as ")
	base = strings.TrimSpace(base)

	k, err := parseKind(base)
	if err != nil {
		return value.Mapping{}, err
	}
	m := value.M(k)
	if hasRep {
		tag, err := representation(k, strings.TrimSpace(rep))
		if err != nil {
			return value.Mapping{}, err
		}
		m.As = tag
	}
	return m, nil
}

func parseKind(s string) (value.Kind, error) {
	switch s {
	case "any", "object", "function", "instant", "bigint", "void":
		k, _ := value.KindByName(s)
		return k, nil
	case "promise":
		return 0, errors.ParseFailed("type "+s, fmt.Errorf("promise requires an element type"))
	}

	t, err := wit.ParseType(s)
	if err != nil {
		return 0, errors.ParseFailed("type "+s, err)
	}
	switch t.(type) {
	case wit.Bool:
		return value.KindBool, nil
	case wit.S8:
		return value.KindInt8, nil
	case wit.U8:
		return value.KindUint8, nil
	case wit.S16:
		return value.KindInt16, nil
	case wit.U16:
		return value.KindUint16, nil
	case wit.S32:
		return value.KindInt32, nil
	case wit.U32:
		return value.KindUint32, nil
	case wit.S64:
		return value.KindInt64, nil
	case wit.U64:
		return value.KindUint64, nil
	case wit.F32:
		return value.KindFloat32, nil
	case wit.F64:
		return value.KindFloat64, nil
	case wit.Char, wit.String:
		return value.KindString, nil
	}
	return 0, errors.New(errors.PhaseParse, errors.KindUnsupportedMapping).
		HomeType(s).Detail("type has no cross-boundary mapping").Build()
}

func representation(k value.Kind, name string) (value.Tag, error) {
	switch name {
	case "number":
		if k == value.KindFloat32 || k == value.KindFloat64 {
			return value.TagFloat, nil
		}
		return value.TagInt, nil
	case "bigint":
		return value.TagBigInt, nil
	case "boolean":
		return value.TagBool, nil
	case "string":
		return value.TagString, nil
	case "date", "instant":
		return value.TagInstant, nil
	case "object":
		return value.TagObject, nil
	case "function":
		return value.TagFunction, nil
	}
	return 0, errors.New(errors.PhaseParse, errors.KindUnsupportedMapping).
		HomeType(k.String()).ForeignType(name).
		Detail("unknown representation %q", name).Build()
}

// splitParams splits a parameter list on top-level commas.
func splitParams(s string) []string {
	var result []string
	var current strings.Builder
	depth := 0

	for _, ch := range s {
		switch ch {
		case '(', '<':
			depth++
			current.WriteRune(ch)
		case ')', '>':
			depth--
			current.WriteRune(ch)
		case ',':
			if depth == 0 {
				if str := strings.TrimSpace(current.String()); str != "" {
					result = append(result, str)
				}
				current.Reset()
			} else {
				current.WriteRune(ch)
			}
		default:
			current.WriteRune(ch)
		}
	}

	if str := strings.TrimSpace(current.String()); str != "" {
		result = append(result, str)
	}

	return result
}
