package cascade

import (
	"fmt"
	"strings"
)

// ToMermaid renders the workflow as a Mermaid flowchart: agents as
// rectangles, transforms as parallelograms, conditionals as diamonds
// with labelled branches converging on a join node, and sub-workflows
// as subgraphs expanded inline.
func (w *Workflow) ToMermaid() string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")
	b.WriteString("    Start([Start])\n")

	prev := "Start"
	for i, step := range w.steps {
		entry, exit := renderStep(&b, step, fmt.Sprintf("S%d", i))
		fmt.Fprintf(&b, "    %s --> %s\n", prev, entry)
		prev = exit
	}

	b.WriteString("    End([End])\n")
	fmt.Fprintf(&b, "    %s --> End\n", prev)
	return b.String()
}

// renderStep emits the node definitions for one step and returns its
// entry and exit node ids. For simple steps both are the step node; for
// conditionals the exit is the join node; for sub-workflows entry and
// exit are the child's first and last nodes.
func renderStep(b *strings.Builder, step Step, id string) (entry, exit string) {
	label := mermaidEscape(step.Name())

	switch s := step.(type) {
	case *ConditionalStep:
		fmt.Fprintf(b, "    %s{\"%s\"}\n", id, label)
		join := id + "_J"
		fmt.Fprintf(b, "    %s((join))\n", join)
		onTrue, onFalse := s.Branches()
		renderBranch(b, onTrue, id, "true", id+"_T", join)
		renderBranch(b, onFalse, id, "false", id+"_F", join)
		return id, join

	case *SubWorkflowStep:
		child := s.Build()
		fmt.Fprintf(b, "    subgraph %s[\"%s\"]\n", id, label)
		prev := ""
		for i, cs := range child.Steps() {
			centry, cexit := renderStep(b, cs, fmt.Sprintf("%s_%d", id, i))
			if prev == "" {
				entry = centry
			} else {
				fmt.Fprintf(b, "    %s --> %s\n", prev, centry)
			}
			prev = cexit
		}
		b.WriteString("    end\n")
		if prev == "" {
			// Empty child: the subgraph itself is the node.
			return id, id
		}
		return entry, prev

	case *TransformStep:
		fmt.Fprintf(b, "    %s[/\"%s\"/]\n", id, label)
		return id, id

	default:
		fmt.Fprintf(b, "    %s[\"%s\"]\n", id, label)
		return id, id
	}
}

// renderBranch wires one conditional branch from the diamond to the join.
// A missing branch is a direct pass-through edge.
func renderBranch(b *strings.Builder, branch Step, diamond, verdict, id, join string) {
	if branch == nil {
		fmt.Fprintf(b, "    %s -->|%s| %s\n", diamond, verdict, join)
		return
	}
	entry, exit := renderStep(b, branch, id)
	fmt.Fprintf(b, "    %s -->|%s| %s\n", diamond, verdict, entry)
	fmt.Fprintf(b, "    %s --> %s\n", exit, join)
}

func mermaidEscape(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}
