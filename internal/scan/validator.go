package scan

import (
	"regexp"
	"strings"
)

// forbiddenKeywords are rejected anywhere in the statement as standalone
// words, including inside subqueries or comments, since the check scans the
// whole string.
var forbiddenKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "TRUNCATE",
	"ALTER", "CREATE", "GRANT", "REVOKE", "EXECUTE",
}

var forbiddenPatterns = compileKeywordPatterns()

func compileKeywordPatterns() map[string]*regexp.Regexp {
	patterns := make(map[string]*regexp.Regexp, len(forbiddenKeywords))
	for _, kw := range forbiddenKeywords {
		patterns[kw] = regexp.MustCompile(`\b` + kw + `\b`)
	}
	return patterns
}

// ValidateSQL statically screens a candidate query before it is ever
// executed. It is a word-level heuristic, not a parser: a string literal
// containing an unbalanced quote or parenthesis, or a forbidden word, is
// misclassified. That is a known limitation of the guard.
func ValidateSQL(sql string) (bool, string) {
	if strings.TrimSpace(sql) == "" {
		return false, "empty SQL query"
	}
	upper := strings.ToUpper(strings.TrimSpace(sql))
	if !strings.HasPrefix(upper, "SELECT") {
		return false, "query must be a SELECT statement"
	}
	for _, kw := range forbiddenKeywords {
		if forbiddenPatterns[kw].MatchString(upper) {
			return false, "query contains forbidden keyword: " + kw
		}
	}
	if !strings.Contains(upper, "FROM") {
		return false, "query must have a FROM clause"
	}
	if strings.Count(sql, "(") != strings.Count(sql, ")") {
		return false, "unbalanced parentheses in query"
	}
	if strings.Count(sql, "'")%2 != 0 {
		return false, "unbalanced single quotes in query"
	}
	return true, ""
}
