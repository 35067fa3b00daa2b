// Command flowviz renders a workflow definition as a self-contained HTML
// page: the Mermaid diagram plus a Markdown description converted with
// goldmark. Useful for documenting pipelines without running them.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"html"
	"log"
	"os"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	cascade "github.com/nevindra/cascade"
)

const pageTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
<script type="module">
import mermaid from 'https://cdn.jsdelivr.net/npm/mermaid@11/dist/mermaid.esm.min.mjs';
mermaid.initialize({ startOnLoad: true });
</script>
<style>
body { font-family: sans-serif; max-width: 60rem; margin: 2rem auto; padding: 0 1rem; }
pre.mermaid { background: transparent; }
</style>
</head>
<body>
<h1>%s</h1>
<pre class="mermaid">
%s</pre>
%s
</body>
</html>
`

func main() {
	out := flag.String("o", "workflow.html", "output HTML file")
	title := flag.String("title", "Workflow", "page title")
	flag.Parse()

	workflow := demoWorkflow()
	diagram := workflow.ToMermaid()

	description := buildDescription(workflow)
	var rendered bytes.Buffer
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := md.Convert([]byte(description), &rendered); err != nil {
		log.Fatalf("render description: %v", err)
	}

	page := fmt.Sprintf(pageTemplate,
		html.EscapeString(*title), html.EscapeString(*title),
		diagram, rendered.String())
	if err := os.WriteFile(*out, []byte(page), 0o644); err != nil {
		log.Fatalf("write %s: %v", *out, err)
	}
	fmt.Printf("wrote %s\n", *out)
}

// buildDescription emits a Markdown table of the workflow's steps.
func buildDescription(w *cascade.Workflow) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "## Steps\n\n")
	fmt.Fprintf(&b, "| # | Name | Type |\n|---|------|------|\n")
	for i, s := range w.Steps() {
		fmt.Fprintf(&b, "| %d | %s | %s |\n", i, s.Name(), s.Type())
	}
	fmt.Fprintf(&b, "\nWorkflow id: `%s`\n", w.ID())
	return b.String()
}

// demoWorkflow mirrors the flowdemo pipeline shape so the rendered
// diagram matches what flowdemo actually runs.
func demoWorkflow() *cascade.Workflow {
	w := cascade.NewWorkflow(cascade.WithWorkflowID("flowdemo"))
	w.AddStep(cascade.NewTransformStep("research", passthrough))
	w.AddStep(cascade.NewConditionalStep("long_answer",
		func(in json.RawMessage) bool { return len(in) > 200 },
		cascade.NewSubWorkflowStep("summarise", func() *cascade.Workflow {
			sub := cascade.NewWorkflow()
			sub.AddStep(cascade.NewTransformStep("summarizer", passthrough))
			return sub
		}),
		cascade.NewTransformStep("passthrough", passthrough),
	))
	w.AddStep(cascade.NewTransformStep("trim", passthrough))
	return w
}

func passthrough(in json.RawMessage) (json.RawMessage, error) { return in, nil }
