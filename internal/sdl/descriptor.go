// Package sdl implements the descriptor/state-serialization system used
// for per-object synchronized state: a hand-written parser for the
// STATEDESC schema language, and a versioned binary State codec that
// upgrades an older state to the latest descriptor by name.
package sdl

import (
	"fmt"
	"strconv"
	"strings"
)

// VarType enumerates the scalar and composite value types a descriptor
// variable can declare. Nested is not a VarType of its own: a variable
// whose declared type is another descriptor's name lives in a
// Descriptor's NestedVars list instead of Vars.
type VarType int

const (
	VarBool VarType = iota
	VarByte
	VarShort
	VarInt
	VarFloat
	VarDouble
	VarString32
	VarTime
	VarPlKey
	VarPoint3
	VarVector3
	VarQuaternion
	VarRGB
	VarRGB8
	VarRGBA
	VarRGBA8
	VarCreatable
	VarAgeTimeOfDay
)

var typeNames = map[string]VarType{
	"bool": VarBool, "byte": VarByte, "short": VarShort, "int": VarInt,
	"float": VarFloat, "double": VarDouble, "string32": VarString32,
	"time": VarTime, "plkey": VarPlKey, "point3": VarPoint3,
	"vector3": VarVector3, "quaternion": VarQuaternion, "rgb": VarRGB,
	"rgb8": VarRGB8, "rgba": VarRGBA, "rgba8": VarRGBA8,
	"creatable": VarCreatable, "agetimeofday": VarAgeTimeOfDay,
}

// VarDecl is one VAR line inside a STATEDESC body.
type VarDecl struct {
	Name string
	Type VarType
	// NestedDesc is set instead of Type when the variable's declared type
	// is another descriptor's name (a "$OtherDesc" reference).
	NestedDesc string
	// Count is the fixed array length; 0 means a variable-length array.
	Count int
	// Default is the raw text of the DEFAULT=<expr> clause, or "" if absent.
	Default string
}

// Descriptor is one parsed STATEDESC block: a named, versioned schema for
// a State. Multiple versions of the same name may coexist in a DB.
type Descriptor struct {
	Name       string
	Version    int
	Vars       []VarDecl // simple (scalar/composite) variables, in declaration order
	NestedVars []VarDecl // nested-state variables, in declaration order
}

// VarCount returns the number of simple variable slots (nested-state
// variables are not counted), the value the wire format's "compressed size" field width is chosen
// against.
func (d *Descriptor) VarCount() int { return len(d.Vars) }

// NestedVarCount mirrors VarCount for the nested-state group.
func (d *Descriptor) NestedVarCount() int { return len(d.NestedVars) }

// tokenizer

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokNumber
	tokString
	tokLBrace
	tokRBrace
	tokLBracket
	tokRBracket
	tokEquals
	tokDollar
	tokEOF
)

type token struct {
	kind tokenKind
	text string
}

type tokenizer struct {
	src []rune
	pos int
}

func newTokenizer(src string) *tokenizer { return &tokenizer{src: []rune(src)} }

func (t *tokenizer) peekRune() (rune, bool) {
	if t.pos >= len(t.src) {
		return 0, false
	}
	return t.src[t.pos], true
}

func (t *tokenizer) skipSpaceAndComments() {
	for {
		r, ok := t.peekRune()
		if !ok {
			return
		}
		if r == ' ' || r == '\t' || r == '\r' || r == '\n' {
			t.pos++
			continue
		}
		if r == '/' && t.pos+1 < len(t.src) && t.src[t.pos+1] == '/' {
			for t.pos < len(t.src) && t.src[t.pos] != '\n' {
				t.pos++
			}
			continue
		}
		return
	}
}

func (t *tokenizer) next() token {
	t.skipSpaceAndComments()
	r, ok := t.peekRune()
	if !ok {
		return token{kind: tokEOF}
	}
	switch r {
	case '{':
		t.pos++
		return token{kind: tokLBrace, text: "{"}
	case '}':
		t.pos++
		return token{kind: tokRBrace, text: "}"}
	case '[':
		t.pos++
		return token{kind: tokLBracket, text: "["}
	case ']':
		t.pos++
		return token{kind: tokRBracket, text: "]"}
	case '=':
		t.pos++
		return token{kind: tokEquals, text: "="}
	case '$':
		t.pos++
		return token{kind: tokDollar, text: "$"}
	case '"':
		t.pos++
		start := t.pos
		for t.pos < len(t.src) && t.src[t.pos] != '"' {
			t.pos++
		}
		s := string(t.src[start:t.pos])
		if t.pos < len(t.src) {
			t.pos++ // closing quote
		}
		return token{kind: tokString, text: s}
	}
	if isDigit(r) || r == '-' {
		start := t.pos
		t.pos++
		for t.pos < len(t.src) && (isDigit(t.src[t.pos]) || t.src[t.pos] == '.') {
			t.pos++
		}
		return token{kind: tokNumber, text: string(t.src[start:t.pos])}
	}
	if isIdentStart(r) {
		start := t.pos
		for t.pos < len(t.src) && isIdentPart(t.src[t.pos]) {
			t.pos++
		}
		return token{kind: tokIdent, text: string(t.src[start:t.pos])}
	}
	// Unknown character: consume it as punctuation (e.g. ',', ';') so the
	// parser can ignore it rather than the tokenizer looping forever.
	t.pos++
	return token{kind: tokIdent, text: string(r)}
}

func isDigit(r rune) bool      { return r >= '0' && r <= '9' }
func isIdentStart(r rune) bool { return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') }
func isIdentPart(r rune) bool  { return isIdentStart(r) || isDigit(r) }

// parser

type parser struct {
	tz   *tokenizer
	cur  token
}

func newParser(src string) *parser {
	p := &parser{tz: newTokenizer(src)}
	p.advance()
	return p
}

func (p *parser) advance() { p.cur = p.tz.next() }

func (p *parser) expectIdent(want string) error {
	if p.cur.kind != tokIdent || !strings.EqualFold(p.cur.text, want) {
		return fmt.Errorf("sdl: expected %q, got %q", want, p.cur.text)
	}
	p.advance()
	return nil
}

// ParseDescriptors parses every STATEDESC block in src and returns them in
// file order.
func ParseDescriptors(src string) ([]*Descriptor, error) {
	p := newParser(src)
	var out []*Descriptor
	for p.cur.kind != tokEOF {
		if p.cur.kind != tokIdent || !strings.EqualFold(p.cur.text, "STATEDESC") {
			// Skip stray tokens between blocks (commas, semicolons, etc.)
			p.advance()
			continue
		}
		d, err := p.parseStatedesc()
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (p *parser) parseStatedesc() (*Descriptor, error) {
	if err := p.expectIdent("STATEDESC"); err != nil {
		return nil, err
	}
	if p.cur.kind != tokIdent {
		return nil, fmt.Errorf("sdl: expected descriptor name, got %q", p.cur.text)
	}
	d := &Descriptor{Name: p.cur.text, Version: -1}
	p.advance()

	if p.cur.kind != tokLBrace {
		return nil, fmt.Errorf("sdl: expected '{' after %q", d.Name)
	}
	p.advance()

	for p.cur.kind != tokRBrace {
		if p.cur.kind == tokEOF {
			return nil, fmt.Errorf("sdl: unexpected EOF in descriptor %q", d.Name)
		}
		if p.cur.kind != tokIdent {
			p.advance()
			continue
		}
		switch strings.ToUpper(p.cur.text) {
		case "VERSION":
			p.advance()
			if p.cur.kind != tokNumber {
				return nil, fmt.Errorf("sdl: expected version number in %q", d.Name)
			}
			v, err := strconv.Atoi(p.cur.text)
			if err != nil {
				return nil, fmt.Errorf("sdl: bad version %q: %w", p.cur.text, err)
			}
			d.Version = v
			p.advance()
		case "VAR":
			p.advance()
			decl, nested, err := p.parseVarDecl()
			if err != nil {
				return nil, err
			}
			if nested {
				d.NestedVars = append(d.NestedVars, decl)
			} else {
				d.Vars = append(d.Vars, decl)
			}
		default:
			p.advance()
		}
	}
	p.advance() // consume '}'

	if d.Version < 0 {
		return nil, fmt.Errorf("sdl: descriptor %q missing VERSION", d.Name)
	}
	return d, nil
}

func (p *parser) parseVarDecl() (VarDecl, bool, error) {
	var decl VarDecl
	nested := false

	if p.cur.kind == tokDollar {
		p.advance()
		if p.cur.kind != tokIdent {
			return decl, false, fmt.Errorf("sdl: expected nested descriptor name after '$'")
		}
		decl.NestedDesc = p.cur.text
		nested = true
		p.advance()
	} else if p.cur.kind == tokIdent {
		t, ok := typeNames[strings.ToLower(p.cur.text)]
		if !ok {
			return decl, false, fmt.Errorf("sdl: unknown var type %q", p.cur.text)
		}
		decl.Type = t
		p.advance()
	} else {
		return decl, false, fmt.Errorf("sdl: expected var type, got %q", p.cur.text)
	}

	if p.cur.kind != tokIdent {
		return decl, false, fmt.Errorf("sdl: expected var name, got %q", p.cur.text)
	}
	decl.Name = p.cur.text
	p.advance()

	if p.cur.kind == tokLBracket {
		p.advance()
		if p.cur.kind == tokNumber {
			n, err := strconv.Atoi(p.cur.text)
			if err != nil {
				return decl, false, fmt.Errorf("sdl: bad array count for %q: %w", decl.Name, err)
			}
			decl.Count = n
			p.advance()
		}
		if p.cur.kind != tokRBracket {
			return decl, false, fmt.Errorf("sdl: expected ']' after array count for %q", decl.Name)
		}
		p.advance()
	} else {
		decl.Count = 1
	}

	// Optional DEFAULT=<expr>, where <expr> is everything up to the next
	// VAR/VERSION/'}' keyword; we only need the literal text for our
	// best-effort default parser in values.go.
	if p.cur.kind == tokIdent && strings.EqualFold(p.cur.text, "DEFAULT") {
		p.advance()
		if p.cur.kind == tokEquals {
			p.advance()
		}
		var parts []string
		for p.cur.kind != tokEOF && p.cur.kind != tokRBrace &&
			!(p.cur.kind == tokIdent && isKeyword(p.cur.text)) {
			parts = append(parts, p.cur.text)
			p.advance()
		}
		decl.Default = strings.Join(parts, "")
	}

	return decl, nested, nil
}

func isKeyword(s string) bool {
	switch strings.ToUpper(s) {
	case "VAR", "VERSION":
		return true
	}
	return false
}
