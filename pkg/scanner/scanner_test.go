package scanner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scanAll drains the scanner, returning every token up to and including
// the EOF token.
func scanAll(source string) []Token {
	s := New(source)
	var tokens []Token
	for {
		tok := s.ScanToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens
		}
	}
}

func TestScanPunctuation(t *testing.T) {
	tokens := scanAll("(){};,.-+/*")
	want := []TokenType{
		TokenLeftParen, TokenRightParen, TokenLeftBrace, TokenRightBrace,
		TokenSemicolon, TokenComma, TokenDot, TokenMinus, TokenPlus,
		TokenSlash, TokenStar, TokenEOF,
	}
	require.Len(t, tokens, len(want))
	for i, tt := range want {
		assert.Equal(t, tt, tokens[i].Type, "token %d", i)
	}
}

func TestScanTwoCharacterOperators(t *testing.T) {
	tests := []struct {
		source string
		want   []TokenType
	}{
		{"!=", []TokenType{TokenBangEqual, TokenEOF}},
		{"! =", []TokenType{TokenBang, TokenEqual, TokenEOF}},
		{"==", []TokenType{TokenEqualEqual, TokenEOF}},
		{"<=", []TokenType{TokenLessEqual, TokenEOF}},
		{">=", []TokenType{TokenGreaterEqual, TokenEOF}},
		{"< =", []TokenType{TokenLess, TokenEqual, TokenEOF}},
	}
	for _, tc := range tests {
		t.Run(tc.source, func(t *testing.T) {
			tokens := scanAll(tc.source)
			require.Len(t, tokens, len(tc.want))
			for i, tt := range tc.want {
				assert.Equal(t, tt, tokens[i].Type)
			}
		})
	}
}

func TestScanKeywords(t *testing.T) {
	keywords := map[string]TokenType{
		"and": TokenAnd, "class": TokenClass, "else": TokenElse,
		"false": TokenFalse, "for": TokenFor, "fun": TokenFun,
		"if": TokenIf, "nil": TokenNil, "or": TokenOr,
		"print": TokenPrint, "return": TokenReturn, "super": TokenSuper,
		"this": TokenThis, "true": TokenTrue, "var": TokenVar,
		"while": TokenWhile,
	}
	for word, want := range keywords {
		tokens := scanAll(word)
		require.Len(t, tokens, 2, "keyword %q", word)
		assert.Equal(t, want, tokens[0].Type, "keyword %q", word)
		assert.Equal(t, word, tokens[0].Lexeme)
	}
}

func TestScanIdentifiersNearKeywords(t *testing.T) {
	// Prefixes, extensions and case variants of keywords are plain
	// identifiers.
	for _, word := range []string{"an", "ands", "fals", "falsey", "fort", "fu", "variable", "classy", "And", "_if", "thi", "truth"} {
		tokens := scanAll(word)
		require.Len(t, tokens, 2, "word %q", word)
		assert.Equal(t, TokenIdentifier, tokens[0].Type, "word %q", word)
	}
}

func TestScanNumbers(t *testing.T) {
	tokens := scanAll("123 0.5 42.25")
	require.Len(t, tokens, 4)
	assert.Equal(t, "123", tokens[0].Lexeme)
	assert.Equal(t, "0.5", tokens[1].Lexeme)
	assert.Equal(t, "42.25", tokens[2].Lexeme)
	for i := 0; i < 3; i++ {
		assert.Equal(t, TokenNumber, tokens[i].Type)
	}
}

func TestScanNumberTrailingDot(t *testing.T) {
	// A fractional part needs at least one digit, so "1." is a number
	// followed by a dot.
	tokens := scanAll("1.")
	require.Len(t, tokens, 3)
	assert.Equal(t, TokenNumber, tokens[0].Type)
	assert.Equal(t, "1", tokens[0].Lexeme)
	assert.Equal(t, TokenDot, tokens[1].Type)
}

func TestScanString(t *testing.T) {
	tokens := scanAll(`"hello there"`)
	require.Len(t, tokens, 2)
	assert.Equal(t, TokenString, tokens[0].Type)
	assert.Equal(t, `"hello there"`, tokens[0].Lexeme)
}

func TestScanMultilineStringCountsLines(t *testing.T) {
	tokens := scanAll("\"a\nb\" x")
	require.Len(t, tokens, 3)
	assert.Equal(t, TokenString, tokens[0].Type)
	// The token is stamped with the line it ends on.
	assert.Equal(t, 2, tokens[0].Line)
	assert.Equal(t, 2, tokens[1].Line)
}

func TestScanUnterminatedString(t *testing.T) {
	tokens := scanAll(`"oops`)
	require.Len(t, tokens, 2)
	assert.Equal(t, TokenError, tokens[0].Type)
	assert.Equal(t, "Unterminated string", tokens[0].Lexeme)
}

func TestScanUnexpectedCharacter(t *testing.T) {
	tokens := scanAll("@")
	require.Len(t, tokens, 2)
	assert.Equal(t, TokenError, tokens[0].Type)
	assert.Equal(t, "Unexpected character", tokens[0].Lexeme)
}

func TestScanCommentsAndWhitespace(t *testing.T) {
	tokens := scanAll("1 // the rest is ignored\n2")
	require.Len(t, tokens, 3)
	assert.Equal(t, "1", tokens[0].Lexeme)
	assert.Equal(t, "2", tokens[1].Lexeme)
	assert.Equal(t, 2, tokens[1].Line)
}

func TestScanLineNumbers(t *testing.T) {
	tokens := scanAll("a\nb\n\nc")
	require.Len(t, tokens, 4)
	assert.Equal(t, 1, tokens[0].Line)
	assert.Equal(t, 2, tokens[1].Line)
	assert.Equal(t, 4, tokens[2].Line)
}

func TestScanEOFIsSticky(t *testing.T) {
	s := New("")
	for i := 0; i < 3; i++ {
		assert.Equal(t, TokenEOF, s.ScanToken().Type)
	}
}

// Re-concatenating lexemes reconstructs the source minus whitespace and
// comments.
func TestLexemesReconstructSource(t *testing.T) {
	source := "var x = 1; // init\nprint x + 2;"
	var b strings.Builder
	for _, tok := range scanAll(source) {
		if tok.Type != TokenEOF {
			b.WriteString(tok.Lexeme)
		}
	}
	assert.Equal(t, "varx=1;printx+2;", b.String())
}
