package grammar

// builtinJSONEBNF accepts RFC 8259 JSON documents with arbitrary
// whitespace. The compiler builds and caches the compiled form lazily.
const builtinJSONEBNF = `root ::= ws value ws
value ::= object | array | string | number | "true" | "false" | "null"
object ::= "{" ws ("}" | member (ws "," ws member)* ws "}")
member ::= string ws ":" ws value
array ::= "[" ws ("]" | value (ws "," ws value)* ws "]")
string ::= "\"" char* "\""
char ::= [^"\\\0-\x1f] | "\\" escape
escape ::= ["\\/bfnrt] | "u" hex hex hex hex
hex ::= [0-9a-fA-F]
number ::= "-"? integer fraction? exponent?
integer ::= "0" | [1-9] [0-9]*
fraction ::= "." [0-9]+
exponent ::= [eE] [+\-]? [0-9]+
ws ::= [ \t\n\r]*
`

// BuiltinJSONEBNF returns the source text of the builtin JSON grammar.
func BuiltinJSONEBNF() string {
	return builtinJSONEBNF
}
