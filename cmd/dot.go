package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/emicklei/dot"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"gstate/internal/analysis"
	"gstate/internal/cfg"
	"gstate/internal/dominator"
)

var DotOut string

var dotCommand = &cobra.Command{
	Use:   "dot",
	Short: "write the CFG and its dominator tree as graphviz",
	Long:  ``,
	RunE: func(*cobra.Command, []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}
		methods, err := analysis.Load(SourceFile, nil, FunctionName)
		if err != nil {
			return err
		}
		g := graph(methods[0], dominator.New(methods[0]))
		if DotOut == "" {
			fmt.Println(g.String())
			return nil
		}
		return errors.Wrapf(os.WriteFile(DotOut, []byte(g.String()), 0o644), "write %s", DotOut)
	},
}

func init() {
	dotCommand.Flags().StringVar(&SourceFile, "file", "", "Go source file")
	dotCommand.Flags().StringVar(&FunctionName, "func", "", "function, Type.Method for methods")
	dotCommand.Flags().StringVar(&DotOut, "out", "", "output file, stdout when empty")
	_ = dotCommand.MarkFlagRequired("file")
	_ = dotCommand.MarkFlagRequired("func")
}

// graph draws control-flow edges solid and immediate-dominator edges dashed.
func graph(m *cfg.Method, tree *dominator.Tree) *dot.Graph {
	g := dot.NewGraph(dot.Directed)
	g.Attr("label", m.String())
	nodes := make(map[*cfg.BasicBlock]dot.Node, len(m.Blocks))
	for _, block := range m.Blocks {
		lines := make([]string, 0, len(block.Instructions)+1)
		lines = append(lines, block.String()+":")
		for _, inst := range block.Instructions {
			lines = append(lines, inst.String())
		}
		n := g.Node(block.String()).Box().Label(strings.Join(lines, "\n"))
		if block.Handler {
			n.Attr("style", "dashed")
		}
		nodes[block] = n
	}
	for _, block := range m.Blocks {
		for _, succ := range block.Succs {
			e := g.Edge(nodes[block], nodes[succ])
			if tree.IsBackEdge(block, succ) {
				e.Attr("color", "red")
			}
		}
	}
	for _, block := range m.Blocks {
		if idom := tree.Idom(block); idom != nil {
			g.Edge(nodes[idom], nodes[block]).Dashed().Attr("color", "gray")
		}
	}
	return g
}
