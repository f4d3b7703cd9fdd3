package parser

import (
	"fmt"
	"strconv"

	"github.com/return2faye/siltsql/internal/types"
)

// Parser is a recursive-descent parser for statement keywords and a Pratt
// parser for expressions, per spec.md §4.14.
type Parser struct {
	lex *Lexer
}

// Parse parses a single SQL statement (the trailing ';', if any, is
// consumed but not required).
func Parse(sql string) (Statement, error) {
	p := &Parser{lex: NewLexer(sql)}
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	tok, err := p.lex.Peek()
	if err != nil {
		return nil, err
	}
	if tok.Kind == Punctuation && tok.Text == ";" {
		p.lex.Next()
	}
	return stmt, nil
}

func (p *Parser) expectKeyword(kw string) error {
	tok, err := p.lex.Next()
	if err != nil {
		return err
	}
	if tok.Kind != Keyword || tok.Text != kw {
		return fmt.Errorf("parser: expected %s, got %s at %d:%d", kw, tok, tok.Line, tok.Column)
	}
	return nil
}

func (p *Parser) expectPunctuation(text string) error {
	tok, err := p.lex.Next()
	if err != nil {
		return err
	}
	if tok.Kind != Punctuation || tok.Text != text {
		return fmt.Errorf("parser: expected %q, got %s at %d:%d", text, tok, tok.Line, tok.Column)
	}
	return nil
}

func (p *Parser) expectIdentifier() (string, error) {
	tok, err := p.lex.Next()
	if err != nil {
		return "", err
	}
	if tok.Kind != Identifier {
		return "", fmt.Errorf("parser: expected identifier, got %s at %d:%d", tok, tok.Line, tok.Column)
	}
	return tok.Text, nil
}

func (p *Parser) peekIsKeyword(kw string) bool {
	tok, err := p.lex.Peek()
	return err == nil && tok.Kind == Keyword && tok.Text == kw
}

func (p *Parser) peekIsPunctuation(text string) bool {
	tok, err := p.lex.Peek()
	return err == nil && tok.Kind == Punctuation && tok.Text == text
}

func (p *Parser) parseStatement() (Statement, error) {
	tok, err := p.lex.Peek()
	if err != nil {
		return nil, err
	}
	if tok.Kind != Keyword {
		return nil, fmt.Errorf("parser: expected a statement keyword, got %s at %d:%d", tok, tok.Line, tok.Column)
	}
	switch tok.Text {
	case "SELECT":
		return p.parseSelect()
	case "INSERT":
		return p.parseInsert()
	case "UPDATE":
		return p.parseUpdate()
	case "DELETE":
		return p.parseDelete()
	case "CREATE":
		return p.parseCreate()
	case "DROP":
		return p.parseDrop()
	case "BEGIN":
		p.lex.Next()
		if p.peekIsKeyword("TRANSACTION") {
			p.lex.Next()
		}
		return &BeginStatement{}, nil
	case "COMMIT":
		p.lex.Next()
		return &CommitStatement{}, nil
	case "ROLLBACK":
		p.lex.Next()
		return &RollbackStatement{}, nil
	case "EXPLAIN":
		p.lex.Next()
		inner, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		return &ExplainStatement{Inner: inner}, nil
	case "SHOW":
		return p.parseShow()
	case "DESCRIBE":
		p.lex.Next()
		table, err := p.expectIdentifier()
		if err != nil {
			return nil, err
		}
		return &DescribeStatement{Table: table}, nil
	default:
		return nil, fmt.Errorf("parser: unsupported statement %q at %d:%d", tok.Text, tok.Line, tok.Column)
	}
}

func (p *Parser) parseShow() (Statement, error) {
	p.lex.Next() // SHOW
	tok, err := p.lex.Next()
	if err != nil {
		return nil, err
	}
	if tok.Kind != Keyword {
		return nil, fmt.Errorf("parser: expected TABLES/INDEXES/DATABASES, got %s at %d:%d", tok, tok.Line, tok.Column)
	}
	switch tok.Text {
	case "TABLES":
		return &ShowStatement{Kind: ShowTables}, nil
	case "DATABASES":
		return &ShowStatement{Kind: ShowDatabases}, nil
	case "INDEXES":
		var table string
		if p.peekIsKeyword("ON") {
			p.lex.Next()
			table, err = p.expectIdentifier()
			if err != nil {
				return nil, err
			}
		}
		return &ShowStatement{Kind: ShowIndexes, Table: table}, nil
	default:
		return nil, fmt.Errorf("parser: unsupported SHOW target %q at %d:%d", tok.Text, tok.Line, tok.Column)
	}
}

func (p *Parser) parseSelect() (Statement, error) {
	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	stmt := &SelectStatement{}
	if p.peekIsPunctuation("*") {
		p.lex.Next()
	} else {
		for {
			col, err := p.expectIdentifier()
			if err != nil {
				return nil, err
			}
			stmt.Columns = append(stmt.Columns, col)
			if p.peekIsPunctuation(",") {
				p.lex.Next()
				continue
			}
			break
		}
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	table, err := p.expectIdentifier()
	if err != nil {
		return nil, err
	}
	stmt.Table = table

	if p.peekIsKeyword("WHERE") {
		p.lex.Next()
		expr, err := p.parseExpression(0)
		if err != nil {
			return nil, err
		}
		stmt.Where = expr
	}
	if p.peekIsKeyword("ORDER") {
		p.lex.Next()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		col, err := p.expectIdentifier()
		if err != nil {
			return nil, err
		}
		stmt.OrderBy = col
		if p.peekIsKeyword("DESC") {
			p.lex.Next()
			stmt.Desc = true
		} else if p.peekIsKeyword("ASC") {
			p.lex.Next()
		}
	}
	if p.peekIsKeyword("LIMIT") {
		p.lex.Next()
		tok, err := p.lex.Next()
		if err != nil {
			return nil, err
		}
		if tok.Kind != IntegerLiteral {
			return nil, fmt.Errorf("parser: LIMIT requires an integer, got %s at %d:%d", tok, tok.Line, tok.Column)
		}
		n, err := strconv.ParseInt(tok.Text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parser: %w", err)
		}
		stmt.Limit = &n
	}
	return stmt, nil
}

func (p *Parser) parseInsert() (Statement, error) {
	if err := p.expectKeyword("INSERT"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	table, err := p.expectIdentifier()
	if err != nil {
		return nil, err
	}
	stmt := &InsertStatement{Table: table}

	if err := p.expectPunctuation("("); err != nil {
		return nil, err
	}
	for {
		col, err := p.expectIdentifier()
		if err != nil {
			return nil, err
		}
		stmt.Columns = append(stmt.Columns, col)
		if p.peekIsPunctuation(",") {
			p.lex.Next()
			continue
		}
		break
	}
	if err := p.expectPunctuation(")"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}
	if err := p.expectPunctuation("("); err != nil {
		return nil, err
	}
	for {
		v, err := p.parseExpression(0)
		if err != nil {
			return nil, err
		}
		stmt.Values = append(stmt.Values, v)
		if p.peekIsPunctuation(",") {
			p.lex.Next()
			continue
		}
		break
	}
	if err := p.expectPunctuation(")"); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *Parser) parseUpdate() (Statement, error) {
	if err := p.expectKeyword("UPDATE"); err != nil {
		return nil, err
	}
	table, err := p.expectIdentifier()
	if err != nil {
		return nil, err
	}
	stmt := &UpdateStatement{Table: table, Sets: map[string]Expression{}}
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	for {
		col, err := p.expectIdentifier()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunctuation("="); err != nil {
			return nil, err
		}
		v, err := p.parseExpression(0)
		if err != nil {
			return nil, err
		}
		stmt.Sets[col] = v
		if p.peekIsPunctuation(",") {
			p.lex.Next()
			continue
		}
		break
	}
	if p.peekIsKeyword("WHERE") {
		p.lex.Next()
		expr, err := p.parseExpression(0)
		if err != nil {
			return nil, err
		}
		stmt.Where = expr
	}
	return stmt, nil
}

func (p *Parser) parseDelete() (Statement, error) {
	if err := p.expectKeyword("DELETE"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	table, err := p.expectIdentifier()
	if err != nil {
		return nil, err
	}
	stmt := &DeleteStatement{Table: table}
	if p.peekIsKeyword("WHERE") {
		p.lex.Next()
		expr, err := p.parseExpression(0)
		if err != nil {
			return nil, err
		}
		stmt.Where = expr
	}
	return stmt, nil
}

func (p *Parser) parseCreate() (Statement, error) {
	p.lex.Next() // CREATE
	tok, err := p.lex.Next()
	if err != nil {
		return nil, err
	}
	switch {
	case tok.Kind == Keyword && tok.Text == "TABLE":
		return p.parseCreateTable()
	case tok.Kind == Keyword && tok.Text == "INDEX":
		return p.parseCreateIndex()
	default:
		return nil, fmt.Errorf("parser: expected TABLE or INDEX, got %s at %d:%d", tok, tok.Line, tok.Column)
	}
}

func (p *Parser) parseCreateTable() (Statement, error) {
	table, err := p.expectIdentifier()
	if err != nil {
		return nil, err
	}
	stmt := &CreateTableStatement{Table: table}
	if err := p.expectPunctuation("("); err != nil {
		return nil, err
	}
	for {
		name, err := p.expectIdentifier()
		if err != nil {
			return nil, err
		}
		typTok, err := p.lex.Next()
		if err != nil {
			return nil, err
		}
		t, err := columnTypeFromToken(typTok)
		if err != nil {
			return nil, err
		}
		isPrimary := false
		if p.peekIsKeyword("PRIMARY") {
			p.lex.Next()
			if err := p.expectKeyword("KEY"); err != nil {
				return nil, err
			}
			isPrimary = true
		}
		stmt.Columns = append(stmt.Columns, ColumnDef{Name: name, Type: t, IsPrimary: isPrimary})
		if p.peekIsPunctuation(",") {
			p.lex.Next()
			continue
		}
		break
	}
	if err := p.expectPunctuation(")"); err != nil {
		return nil, err
	}
	return stmt, nil
}

func columnTypeFromToken(tok Token) (types.Type, error) {
	if tok.Kind != Keyword {
		return 0, fmt.Errorf("parser: expected a column type, got %s at %d:%d", tok, tok.Line, tok.Column)
	}
	switch tok.Text {
	case "I8":
		return types.TypeI8, nil
	case "U8":
		return types.TypeU8, nil
	case "I16":
		return types.TypeI16, nil
	case "U16":
		return types.TypeU16, nil
	case "I32":
		return types.TypeI32, nil
	case "U32":
		return types.TypeU32, nil
	case "I64":
		return types.TypeI64, nil
	case "U64":
		return types.TypeU64, nil
	case "F32":
		return types.TypeF32, nil
	case "F64":
		return types.TypeF64, nil
	case "BOOLEAN":
		return types.TypeBoolean, nil
	case "STRING":
		return types.TypeString, nil
	case "DATE":
		return types.TypeDate, nil
	case "BLOB":
		return types.TypeBlob, nil
	default:
		return 0, fmt.Errorf("parser: unknown column type %q at %d:%d", tok.Text, tok.Line, tok.Column)
	}
}

func (p *Parser) parseCreateIndex() (Statement, error) {
	if err := p.expectKeyword("ON"); err != nil {
		return nil, err
	}
	table, err := p.expectIdentifier()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunctuation("("); err != nil {
		return nil, err
	}
	col, err := p.expectIdentifier()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunctuation(")"); err != nil {
		return nil, err
	}
	return &CreateIndexStatement{Table: table, Column: col}, nil
}

func (p *Parser) parseDrop() (Statement, error) {
	p.lex.Next() // DROP
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	table, err := p.expectIdentifier()
	if err != nil {
		return nil, err
	}
	return &DropTableStatement{Table: table}, nil
}

// --- Pratt expression parser ---

// precedence implements the table from spec.md §4.14: OR=1, AND=2,
// comparisons=3, +/-=4, */÷=5.
func precedenceOf(tok Token) (BinaryOp, int, bool) {
	if tok.Kind == Keyword {
		switch tok.Text {
		case "OR":
			return OpOr, 1, true
		case "AND":
			return OpAnd, 2, true
		}
		return 0, 0, false
	}
	if tok.Kind != Punctuation {
		return 0, 0, false
	}
	switch tok.Text {
	case ">":
		return OpGt, 3, true
	case ">=":
		return OpGte, 3, true
	case "<":
		return OpLt, 3, true
	case "<=":
		return OpLte, 3, true
	case "==", "=":
		return OpEq, 3, true
	case "!=":
		return OpNeq, 3, true
	case "+":
		return OpAdd, 4, true
	case "-":
		return OpSub, 4, true
	case "*":
		return OpMul, 5, true
	case "/":
		return OpDiv, 5, true
	default:
		return 0, 0, false
	}
}

func (p *Parser) parseExpression(minPrec int) (Expression, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok, err := p.lex.Peek()
		if err != nil {
			return nil, err
		}
		op, prec, ok := precedenceOf(tok)
		if !ok || prec < minPrec {
			return left, nil
		}
		p.lex.Next()
		right, err := p.parseExpression(prec + 1)
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
}

// parseUnary binds unary +/- and NOT at maximum precedence, per spec.md
// §4.14.
func (p *Parser) parseUnary() (Expression, error) {
	tok, err := p.lex.Peek()
	if err != nil {
		return nil, err
	}
	if tok.Kind == Punctuation && (tok.Text == "-" || tok.Text == "+") {
		p.lex.Next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		op := OpPos
		if tok.Text == "-" {
			op = OpNeg
		}
		return &UnaryExpr{Op: op, Operand: operand}, nil
	}
	if tok.Kind == Keyword && tok.Text == "NOT" {
		p.lex.Next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: OpNot, Operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Expression, error) {
	tok, err := p.lex.Next()
	if err != nil {
		return nil, err
	}
	switch tok.Kind {
	case Identifier:
		return &ColumnRefExpr{Name: tok.Text}, nil
	case IntegerLiteral:
		n, err := strconv.ParseInt(tok.Text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parser: %w", err)
		}
		return &LiteralExpr{Value: types.NewI64(n)}, nil
	case FloatLiteral:
		f, err := strconv.ParseFloat(tok.Text, 64)
		if err != nil {
			return nil, fmt.Errorf("parser: %w", err)
		}
		return &LiteralExpr{Value: types.NewF64(f)}, nil
	case StringLiteral:
		return &LiteralExpr{Value: types.NewString(tok.Text)}, nil
	case Keyword:
		switch tok.Text {
		case "NULL":
			return &LiteralExpr{Value: types.Null}, nil
		case "TRUE":
			return &LiteralExpr{Value: types.NewBoolean(true)}, nil
		case "FALSE":
			return &LiteralExpr{Value: types.NewBoolean(false)}, nil
		}
		return nil, fmt.Errorf("parser: unexpected keyword %s in expression at %d:%d", tok.Text, tok.Line, tok.Column)
	case Punctuation:
		if tok.Text == "(" {
			expr, err := p.parseExpression(0)
			if err != nil {
				return nil, err
			}
			if err := p.expectPunctuation(")"); err != nil {
				return nil, err
			}
			return expr, nil
		}
		return nil, fmt.Errorf("parser: unexpected token %s at %d:%d", tok, tok.Line, tok.Column)
	default:
		return nil, fmt.Errorf("parser: unexpected end of input")
	}
}
