// Package script renders the small Node.js wrapper the Codex-kind adapter
// execs in place of a native Codex CLI: a throwaway script that calls the
// OpenAI chat completions API with the job's objective as the prompt.
package script

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

// CodexRequest parameterizes the generated wrapper script.
type CodexRequest struct {
	Model     string
	Objective string
}

var codexTemplate = template.Must(template.New("codex").Parse(`const OpenAI = require('openai');
const openai = new OpenAI({
    apiKey: process.env.OPENAI_API_KEY,
});

async function main() {
    const completion = await openai.chat.completions.create({
        model: {{.Model}},
        messages: [{role: "user", content: {{.Objective}}}],
    });
    console.log(completion.choices[0].message.content);
}
main().catch((err) => {
    console.error(err);
    process.exit(1);
});
`))

// RenderCodexScript produces the Node.js source for the Codex-kind adapter's
// wrapper process. The objective is embedded via encoding/json, with
// backticks additionally written as the escape for U+0060, so that quotes, backticks, and
// newlines in the objective text cannot break out of or appear raw in the
// generated string literal — the original's raw string interpolation
// (escaping only backtick and double-quote) did not close that gap for
// every special character.
func RenderCodexScript(req CodexRequest) (string, error) {
	modelJSON, err := json.Marshal(req.Model)
	if err != nil {
		return "", fmt.Errorf("script: encode model: %w", err)
	}
	objectiveJSON, err := json.Marshal(req.Objective)
	if err != nil {
		return "", fmt.Errorf("script: encode objective: %w", err)
	}

	var buf bytes.Buffer
	err = codexTemplate.Execute(&buf, struct {
		Model     string
		Objective string
	}{
		Model:     string(modelJSON),
		Objective: strings.ReplaceAll(string(objectiveJSON), "`", "\\u0060"),
	})
	if err != nil {
		return "", fmt.Errorf("script: render codex script: %w", err)
	}

	return buf.String(), nil
}
