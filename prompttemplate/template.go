// Package prompttemplate implements a small text-template engine: variable
// interpolation (`{{var}}`), conditional blocks (`{% if %}`), iteration
// (`{% for %}`), and a JSON filter — the minimum surface the bundled
// prompts actually use, not a general Jinja clone.
package prompttemplate

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Template is a parsed prompt template ready to render against an input
// dict.
type Template struct {
	source string
	nodes  []node
}

// Parse compiles source into a Template. It never panics; it returns an
// error for an unterminated {{ }} or {% %}, an unknown tag, a malformed
// for header, or an if/for block without its closing tag.
func Parse(source string) (*Template, error) {
	nodes, rest, err := parseNodes(source)
	if err != nil {
		return nil, err
	}
	if rest != "" {
		return nil, fmt.Errorf("prompttemplate: unexpected trailing content near %q", truncate(rest, 30))
	}
	return &Template{source: source, nodes: nodes}, nil
}

// MustParse is Parse but panics on error, for package-level template
// literals.
func MustParse(source string) *Template {
	t, err := Parse(source)
	if err != nil {
		panic(err)
	}
	return t
}

// Render evaluates the template against dict, returning the rendered text.
func (t *Template) Render(dict map[string]interface{}) (string, error) {
	var b strings.Builder
	if err := renderNodes(t.nodes, dict, &b); err != nil {
		return "", err
	}
	return b.String(), nil
}

// node is one parsed template element.
type node interface{}

type textNode struct{ text string }

type varNode struct {
	path string
	json bool
}

type ifNode struct {
	cond string
	then []node
	els  []node
}

type forNode struct {
	varName string
	path    string
	body    []node
}

// parseNodes parses a node sequence up to (but not including) a sibling
// block terminator ({% else %}, {% endif %}, {% endfor %}) or end of
// input, returning the parsed nodes and whatever source remains.
func parseNodes(s string) ([]node, string, error) {
	var nodes []node
	for {
		idx := strings.Index(s, "{")
		if idx == -1 {
			if s != "" {
				nodes = append(nodes, textNode{text: s})
			}
			return nodes, "", nil
		}

		if idx > 0 {
			nodes = append(nodes, textNode{text: s[:idx]})
		}
		rest := s[idx:]

		if strings.HasPrefix(rest, "{{") {
			end := strings.Index(rest, "}}")
			if end == -1 {
				return nil, "", fmt.Errorf("prompttemplate: unterminated {{ }} in %q", truncate(rest, 30))
			}
			expr := strings.TrimSpace(rest[2:end])
			vn := parseVarExpr(expr)
			nodes = append(nodes, vn)
			s = rest[end+2:]
			continue
		}

		if strings.HasPrefix(rest, "{%") {
			end := strings.Index(rest, "%}")
			if end == -1 {
				return nil, "", fmt.Errorf("prompttemplate: unterminated {%% %%} in %q", truncate(rest, 30))
			}
			tag := strings.TrimSpace(rest[2:end])
			tail := rest[end+2:]

			switch {
			case tag == "else" || tag == "endif" || tag == "endfor":
				// A sibling terminator: stop here, let the caller consume it.
				return nodes, rest, nil

			case strings.HasPrefix(tag, "if "):
				cond := strings.TrimSpace(strings.TrimPrefix(tag, "if "))
				thenNodes, after, err := parseNodes(tail)
				if err != nil {
					return nil, "", err
				}
				elseNodes, after2, err := parseElse(after)
				if err != nil {
					return nil, "", err
				}
				after3, err := consumeTag(after2, "endif")
				if err != nil {
					return nil, "", err
				}
				nodes = append(nodes, ifNode{cond: cond, then: thenNodes, els: elseNodes})
				s = after3
				continue

			case strings.HasPrefix(tag, "for "):
				varName, path, err := parseForHeader(tag)
				if err != nil {
					return nil, "", err
				}
				bodyNodes, after, err := parseNodes(tail)
				if err != nil {
					return nil, "", err
				}
				after2, err := consumeTag(after, "endfor")
				if err != nil {
					return nil, "", err
				}
				nodes = append(nodes, forNode{varName: varName, path: path, body: bodyNodes})
				s = after2
				continue

			default:
				return nil, "", fmt.Errorf("prompttemplate: unknown tag %q", tag)
			}
		}

		nodes = append(nodes, textNode{text: string(rest[0])})
		s = rest[1:]
	}
}

func parseElse(s string) ([]node, string, error) {
	if !strings.HasPrefix(strings.TrimSpace(firstTag(s)), "else") {
		return nil, s, nil
	}
	rest, err := consumeTag(s, "else")
	if err != nil {
		return nil, "", err
	}
	return parseNodes(rest)
}

func firstTag(s string) string {
	if !strings.HasPrefix(s, "{%") {
		return ""
	}
	end := strings.Index(s, "%}")
	if end == -1 {
		return ""
	}
	return strings.TrimSpace(s[2:end])
}

func consumeTag(s, want string) (string, error) {
	trimmed := strings.TrimSpace(firstTag(s))
	if trimmed != want {
		return "", fmt.Errorf("prompttemplate: expected {%% %s %%}, found %q", want, truncate(s, 30))
	}
	end := strings.Index(s, "%}")
	return s[end+2:], nil
}

func parseVarExpr(expr string) varNode {
	if strings.HasSuffix(expr, "|json") {
		return varNode{path: strings.TrimSpace(strings.TrimSuffix(expr, "|json")), json: true}
	}
	return varNode{path: expr}
}

func parseForHeader(tag string) (varName, path string, err error) {
	body := strings.TrimSpace(strings.TrimPrefix(tag, "for "))
	parts := strings.SplitN(body, " in ", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("prompttemplate: malformed for header %q", tag)
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// renderNodes writes the rendering of nodes against dict into b.
func renderNodes(nodes []node, dict map[string]interface{}, b *strings.Builder) error {
	for _, n := range nodes {
		switch v := n.(type) {
		case textNode:
			b.WriteString(v.text)

		case varNode:
			val, _ := lookup(dict, v.path)
			if v.json {
				data, err := json.Marshal(val)
				if err != nil {
					return err
				}
				b.Write(data)
			} else {
				b.WriteString(stringify(val))
			}

		case ifNode:
			val, _ := lookup(dict, v.cond)
			branch := v.then
			if !truthy(val) {
				branch = v.els
			}
			if err := renderNodes(branch, dict, b); err != nil {
				return err
			}

		case forNode:
			val, _ := lookup(dict, v.path)
			items, err := toSlice(val)
			if err != nil {
				return err
			}
			for _, item := range items {
				scoped := make(map[string]interface{}, len(dict)+1)
				for k, vv := range dict {
					scoped[k] = vv
				}
				scoped[v.varName] = item
				if err := renderNodes(v.body, scoped, b); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// lookup resolves a dotted path ("example_list.0.text") against dict.
func lookup(dict map[string]interface{}, path string) (interface{}, bool) {
	var cur interface{} = dict
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]interface{}:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

func truthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case []interface{}:
		return len(val) > 0
	case map[string]interface{}:
		return len(val) > 0
	case float64:
		return val != 0
	case int:
		return val != 0
	default:
		return true
	}
}

func toSlice(v interface{}) ([]interface{}, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		return val, nil
	default:
		return nil, fmt.Errorf("prompttemplate: cannot iterate over %T", v)
	}
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case fmt.Stringer:
		return val.String()
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
}
