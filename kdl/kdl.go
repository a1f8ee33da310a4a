// Package kdl implements the node-tree document format used by declarch
// configuration files. A document is a sequence of nodes; each node has a
// name, optional string or bareword arguments, and an optional brace-delimited
// block of child nodes:
//
//	pkg {
//	    aur { hyprland bat }
//	}
//	hooks {
//	    pre-sync "mkdir -p ~/.cache" --ignore
//	}
//
// The parser keeps track of source lines so configuration errors can point at
// the offending node.
package kdl

import "fmt"

// Arg is a single node argument. Quoted distinguishes "command strings" from
// bareword flags and names, which some consumers treat differently.
type Arg struct {
	Value  string
	Quoted bool
}

// Node is one entry in a document: a name, its arguments, and any children.
type Node struct {
	Name     string
	Args     []Arg
	Children []*Node
	Line     int
}

// Document is a parsed file: the top-level node list.
type Document struct {
	Nodes []*Node
}

// ParseError reports a syntax error with its source line.
type ParseError struct {
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

// ArgValues returns the raw values of all arguments.
func (n *Node) ArgValues() []string {
	values := make([]string, len(n.Args))
	for i, a := range n.Args {
		values[i] = a.Value
	}
	return values
}

// FirstArg returns the first argument value, or "" when the node has none.
func (n *Node) FirstArg() string {
	if len(n.Args) == 0 {
		return ""
	}
	return n.Args[0].Value
}

// HasFlag reports whether a bareword argument with the given value is present.
func (n *Node) HasFlag(flag string) bool {
	for _, a := range n.Args {
		if !a.Quoted && a.Value == flag {
			return true
		}
	}
	return false
}

// QuotedArgs returns only the quoted arguments, in order.
func (n *Node) QuotedArgs() []string {
	var values []string
	for _, a := range n.Args {
		if a.Quoted {
			values = append(values, a.Value)
		}
	}
	return values
}

// Child returns the first child with the given name, or nil.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Parse parses a document from source text.
func Parse(src string) (*Document, error) {
	p := &parser{lexer: newLexer(src)}
	nodes, err := p.parseNodes(false)
	if err != nil {
		return nil, err
	}
	return &Document{Nodes: nodes}, nil
}

type parser struct {
	lexer  *lexer
	peeked *token
}

func (p *parser) next() (token, error) {
	if p.peeked != nil {
		tok := *p.peeked
		p.peeked = nil
		return tok, nil
	}
	return p.lexer.next()
}

func (p *parser) peek() (token, error) {
	if p.peeked == nil {
		tok, err := p.lexer.next()
		if err != nil {
			return token{}, err
		}
		p.peeked = &tok
	}
	return *p.peeked, nil
}

// parseNodes reads nodes until EOF (top level) or a closing brace (nested).
func (p *parser) parseNodes(nested bool) ([]*Node, error) {
	var nodes []*Node
	for {
		tok, err := p.next()
		if err != nil {
			return nil, err
		}
		switch tok.kind {
		case tokenEOF:
			if nested {
				return nil, &ParseError{Line: tok.line, Message: "unexpected end of file: missing '}'"}
			}
			return nodes, nil
		case tokenRBrace:
			if !nested {
				return nil, &ParseError{Line: tok.line, Message: "unexpected '}'"}
			}
			return nodes, nil
		case tokenTerminator:
			continue
		case tokenLBrace:
			return nil, &ParseError{Line: tok.line, Message: "unexpected '{': block without a node name"}
		case tokenString:
			// Bare strings appear inside blocks like imports { "a.kdl" }.
			// They parse as nodes whose name is the string itself.
			node := &Node{Name: tok.value, Line: tok.line}
			if err := p.finishNode(node); err != nil {
				return nil, err
			}
			nodes = append(nodes, node)
		case tokenBare:
			node := &Node{Name: tok.value, Line: tok.line}
			if err := p.finishNode(node); err != nil {
				return nil, err
			}
			nodes = append(nodes, node)
		}
	}
}

// finishNode consumes arguments and an optional child block up to the node
// terminator.
func (p *parser) finishNode(node *Node) error {
	for {
		tok, err := p.peek()
		if err != nil {
			return err
		}
		switch tok.kind {
		case tokenBare:
			p.peeked = nil
			node.Args = append(node.Args, Arg{Value: tok.value})
		case tokenString:
			p.peeked = nil
			node.Args = append(node.Args, Arg{Value: tok.value, Quoted: true})
		case tokenLBrace:
			p.peeked = nil
			children, err := p.parseNodes(true)
			if err != nil {
				return err
			}
			node.Children = children
			return nil
		case tokenTerminator:
			p.peeked = nil
			return nil
		case tokenRBrace, tokenEOF:
			// Leave for the caller; the node ends here.
			return nil
		}
	}
}
