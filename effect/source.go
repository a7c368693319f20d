package effect

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	identRe  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	effectRe = regexp.MustCompile(`\bvec4\s+effect\s*\(\s*vec2\s+\w+\s*\)`)
)

// reserved names cannot be used as parameters.
var reserved = map[string]bool{
	"INPUT": true, "INPUT_SIZE": true, "OUTPUT_SIZE": true, "FRAME_COUNT": true,
	"SAMPLE": true, "effect": true, "main": true, "fragColor": true,
}

// Source is a parsed effect file.
type Source struct {
	Name     string
	Params   []Parameter
	Scalable bool
	// Body is the file without its directive lines.
	Body string
}

// Parse reads the directives of an effect file.
func Parse(name, text string) (*Source, error) {
	src := &Source{Name: name}
	seen := make(map[string]bool)
	var body strings.Builder

	sc := bufio.NewScanner(strings.NewReader(text))
	for lineNo := 1; sc.Scan(); lineNo++ {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "//!") {
			body.WriteString(line)
			body.WriteByte('\n')
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(trimmed, "//!"))
		if len(fields) == 0 {
			return nil, fmt.Errorf("%w: %s:%d: empty directive", ErrInvalidSource, name, lineNo)
		}
		switch strings.ToUpper(fields[0]) {
		case "SCALABLE":
			src.Scalable = true
		case "PARAMETER":
			p, err := parseParameter(fields[1:])
			if err != nil {
				return nil, fmt.Errorf("%w: %s:%d: %v", ErrInvalidSource, name, lineNo, err)
			}
			if seen[p.Name] {
				return nil, fmt.Errorf("%w: %s:%d: duplicate parameter %s", ErrInvalidSource, name, lineNo, p.Name)
			}
			seen[p.Name] = true
			src.Params = append(src.Params, p)
		default:
			return nil, fmt.Errorf("%w: %s:%d: unknown directive %q", ErrInvalidSource, name, lineNo, fields[0])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read effect %s: %w", name, err)
	}

	src.Body = body.String()
	if !effectRe.MatchString(src.Body) {
		return nil, fmt.Errorf("%w: %s does not define vec4 effect(vec2)", ErrInvalidSource, name)
	}
	return src, nil
}

func parseParameter(f []string) (Parameter, error) {
	if len(f) != 4 {
		return Parameter{}, fmt.Errorf("PARAMETER wants <name> <default> <min> <max>, got %d fields", len(f))
	}
	p := Parameter{Name: f[0]}
	if !identRe.MatchString(p.Name) || reserved[p.Name] {
		return p, fmt.Errorf("invalid parameter name %q", p.Name)
	}
	vals := make([]float32, 3)
	for i, s := range f[1:] {
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return p, fmt.Errorf("parameter %s: %w", p.Name, err)
		}
		vals[i] = float32(v)
	}
	p.Default, p.Min, p.Max = vals[0], vals[1], vals[2]
	if p.Min > p.Max || p.Default < p.Min || p.Default > p.Max {
		return p, fmt.Errorf("parameter %s: default %g outside [%g, %g]", p.Name, p.Default, p.Min, p.Max)
	}
	return p, nil
}

// Unused returns the declared parameters the body never references.
func (s *Source) Unused() []string {
	var unused []string
	for _, p := range s.Params {
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(p.Name) + `\b`)
		if !re.MatchString(s.Body) {
			unused = append(unused, p.Name)
		}
	}
	return unused
}

// Values resolves the effective parameter values for the given overrides.
func (s *Source) Values(overrides map[string]float32) (map[string]float32, error) {
	byName := make(map[string]Parameter, len(s.Params))
	values := make(map[string]float32, len(s.Params))
	for _, p := range s.Params {
		byName[p.Name] = p
		values[p.Name] = p.Default
	}
	for k, v := range overrides {
		p, ok := byName[k]
		if !ok {
			return nil, fmt.Errorf("%w: %s has no parameter %q", ErrInvalidParameter, s.Name, k)
		}
		if v < p.Min || v > p.Max {
			return nil, fmt.Errorf("%w: %s.%s = %g outside [%g, %g]", ErrInvalidParameter, s.Name, k, v, p.Min, p.Max)
		}
		values[k] = v
	}
	return values, nil
}
