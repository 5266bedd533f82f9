// Package issue 描述分析发现的问题，并负责终端着色输出
package issue

import (
	"fmt"
	"strings"

	"github.com/logrusorgru/aurora"

	"gstate/internal/cfg"
)

type Issue struct {
	ID          string
	Title       string
	Description string

	Method      string
	Block       string
	Instruction string
	// Counterexample is the solver model that reaches the instruction.
	Counterexample string
}

// Locate records where inst sits in its method.
func (is *Issue) Locate(inst cfg.Instruction) {
	is.Instruction = inst.String()
	if b := inst.Block(); b != nil {
		is.Block = b.String()
		if b.Method != nil {
			is.Method = b.Method.String()
		}
	}
}

func (is *Issue) String() string {
	return is.Render(aurora.NewAurora(true))
}

// Render formats the issue, colouring it through au.
func (is *Issue) Render(au aurora.Aurora) string {
	var sb strings.Builder
	header := fmt.Sprintf("ID: %s\nTitle: %s\nDescription: %s\n\n", is.ID, is.Title, is.Description)
	sb.WriteString(au.Red(header).String())

	location := fmt.Sprintf("In method: %s %s\n\t%s\n", is.Method, is.Block, is.Instruction)
	sb.WriteString(au.Yellow(location).String())

	if is.Counterexample != "" {
		sb.WriteString(au.Cyan("Counterexample:\n").String())
		for _, line := range strings.Split(strings.TrimRight(is.Counterexample, "\n"), "\n") {
			sb.WriteString("\t" + line + "\n")
		}
	}
	return sb.String()
}
