package streamit

import (
	"bytes"
	"fmt"

	"github.com/streamit/streamit/tape"
)

// Dot returns a Graphviz description of the graph.
// Composites are drawn as clusters and edges are labeled with the items on their tapes.
func (g *Graph) Dot() string {
	var buf bytes.Buffer
	buf.Write([]byte(fmt.Sprintf("digraph %q {\n", g.name)))
	if g.root != NoNode {
		g.dot(&buf, g.nodes[g.root])
	}
	for _, n := range g.nodes {
		switch d := n.data.(type) {
		case *pipelineData:
			for k := 1; k < len(d.children); k++ {
				up, down := g.nodes[d.children[k-1]], g.nodes[d.children[k]]
				buf.Write([]byte(fmt.Sprintf("%q -> %q [label=\"%d\"];\n",
					g.exit(up), g.entry(down), tapeLen(up.out))))
			}
		case *splitJoinData:
			for _, id := range d.children {
				c := g.nodes[id]
				buf.Write([]byte(fmt.Sprintf("%q -> %q;\n%q -> %q;\n",
					n.name+"_split", g.entry(c), g.exit(c), n.name+"_join")))
			}
		case *feedbackData:
			body, loop := g.nodes[d.children[0]], g.nodes[d.children[1]]
			buf.Write([]byte(fmt.Sprintf("%q -> %q;\n%q -> %q;\n%q -> %q;\n%q -> %q [label=\"delay %d\"];\n",
				n.name+"_join", g.entry(body),
				g.exit(body), n.name+"_split",
				n.name+"_split", g.entry(loop),
				g.exit(loop), n.name+"_join", d.delay)))
		}
	}
	buf.Write([]byte("}\n"))
	return buf.String()
}

func tapeLen(t *tape.Tape) int {
	if t == nil {
		return 0
	}
	return t.Len()
}

func (g *Graph) dot(buf *bytes.Buffer, n *node) {
	switch n.data.(type) {
	case *filterData:
		buf.Write([]byte(fmt.Sprintf("%q [label=\"%s peek=%d pop=%d push=%d fired=%d\"];\n",
			n.name, n.name, n.peek(), n.rates.Pop, n.rates.Push, n.fired)))
	default:
		buf.Write([]byte(fmt.Sprintf("subgraph %q {\nlabel=%q;\n", "cluster_"+n.name, n.name+" "+n.kind().String())))
		split, join := n.fanouts()
		if split != nil {
			buf.Write([]byte(fmt.Sprintf("%q [shape=triangle label=\"%v %v\"];\n", n.name+"_split", split.policy, split.ratio)))
		}
		if join != nil {
			buf.Write([]byte(fmt.Sprintf("%q [shape=invtriangle label=\"%v %v\"];\n", n.name+"_join", join.policy, join.ratio)))
		}
		for _, c := range n.children() {
			g.dot(buf, g.nodes[c])
		}
		buf.Write([]byte("}\n"))
	}
}

// entry returns the name of the first drawn vertex data reaches in n.
func (g *Graph) entry(n *node) string {
	switch n.kind() {
	case PipelineKind:
		if c := n.children(); len(c) > 0 {
			return g.entry(g.nodes[c[0]])
		}
	case SplitJoinKind:
		return n.name + "_split"
	case FeedbackLoopKind:
		return n.name + "_join"
	}
	return n.name
}

// exit returns the name of the last drawn vertex data leaves n from.
func (g *Graph) exit(n *node) string {
	switch n.kind() {
	case PipelineKind:
		if c := n.children(); len(c) > 0 {
			return g.exit(g.nodes[c[len(c)-1]])
		}
	case SplitJoinKind:
		return n.name + "_join"
	case FeedbackLoopKind:
		return n.name + "_split"
	}
	return n.name
}
