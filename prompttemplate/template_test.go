package prompttemplate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariableInterpolation(t *testing.T) {
	tpl, err := Parse("What is {{n}} plus {{m}}?")
	require.NoError(t, err)

	out, err := tpl.Render(map[string]interface{}{"n": float64(2), "m": float64(2)})
	require.NoError(t, err)
	assert.Equal(t, "What is 2 plus 2?", out)
}

func TestJSONFilter(t *testing.T) {
	tpl, err := Parse("Examples: {{example_list|json}}")
	require.NoError(t, err)

	out, err := tpl.Render(map[string]interface{}{
		"example_list": []interface{}{"a", "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, `Examples: ["a","b"]`, out)
}

func TestIfElse(t *testing.T) {
	tpl, err := Parse("{% if has_examples %}with examples{% else %}no examples{% endif %}")
	require.NoError(t, err)

	out, err := tpl.Render(map[string]interface{}{"has_examples": true})
	require.NoError(t, err)
	assert.Equal(t, "with examples", out)

	out, err = tpl.Render(map[string]interface{}{"has_examples": false})
	require.NoError(t, err)
	assert.Equal(t, "no examples", out)
}

func TestForLoop(t *testing.T) {
	tpl, err := Parse("{% for ex in example_list %}- {{ex}}\n{% endfor %}")
	require.NoError(t, err)

	out, err := tpl.Render(map[string]interface{}{
		"example_list": []interface{}{"first", "second"},
	})
	require.NoError(t, err)
	assert.Equal(t, "- first\n- second\n", out)
}

func TestNestedConditionalInsideLoop(t *testing.T) {
	tpl, err := Parse("{% for ex in items %}{% if ex %}[{{ex}}]{% endif %}{% endfor %}")
	require.NoError(t, err)

	out, err := tpl.Render(map[string]interface{}{
		"items": []interface{}{"a", "", "c"},
	})
	require.NoError(t, err)
	assert.Equal(t, "[a][c]", out)
}
