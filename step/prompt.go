package step

import (
	"github.com/teburns/llmonpy/llmclient"
	"github.com/teburns/llmonpy/prompttemplate"
)

// Prompt is the leaf step: render a template against the current input
// dict (including any inherited example_list), send it to an LLM client,
// and record cost/output.
type Prompt struct {
	name            string
	template        *prompttemplate.Template
	systemTemplate  *prompttemplate.Template
	client          llmclient.Client
	model           ModelInfo
	jsonMode        bool
	maxOutputTokens int
	fields          map[string]interface{}
}

// NewPrompt builds a Prompt step. fields are the step's own serializable
// public attributes (merged into the input dict alongside any inherited
// example_list); they typically describe the prompt's static parameters.
func NewPrompt(name string, template, systemTemplate *prompttemplate.Template, client llmclient.Client, model ModelInfo, jsonMode bool, maxOutputTokens int, fields map[string]interface{}) *Prompt {
	return &Prompt{
		name:            name,
		template:        template,
		systemTemplate:  systemTemplate,
		client:          client,
		model:           model,
		jsonMode:        jsonMode,
		maxOutputTokens: maxOutputTokens,
		fields:          fields,
	}
}

func (p *Prompt) StepName() string { return p.name }
func (p *Prompt) StepType() Type   { return TypePrompt }

func (p *Prompt) OutputFormat() OutputFormat {
	if p.jsonMode {
		return OutputFormatJSON
	}
	return OutputFormatText
}

func (p *Prompt) ModelInfo() *ModelInfo { return &p.model }

func (p *Prompt) InputDict() map[string]interface{} {
	dict := make(map[string]interface{}, len(p.fields))
	for k, v := range p.fields {
		dict[k] = v
	}
	return dict
}

// Execute renders the prompt against its merged input dict (own fields
// plus any example_list the owning recorder inherited), sends it, and
// records the template and raw response as events.
func (p *Prompt) Execute(ctx *ExecContext, rec *Recorder) (interface{}, error) {
	dict := buildInputDict(p, rec)

	rendered, err := p.template.Render(dict)
	if err != nil {
		return nil, err
	}
	rec.LogPromptTemplate(rendered)

	var system string
	if p.systemTemplate != nil {
		system, err = p.systemTemplate.Render(dict)
		if err != nil {
			return nil, err
		}
	}

	resp, err := p.client.Prompt(ctx, rec.StepID(), rendered, system, p.jsonMode, p.model.Temperature(), p.maxOutputTokens)
	if err != nil {
		return nil, err
	}
	rec.LogPromptResponse(resp.Text)
	rec.AddCost(resp.TotalCost())

	if p.jsonMode {
		return resp.Dict, nil
	}
	return map[string]interface{}{"text": resp.Text}, nil
}
