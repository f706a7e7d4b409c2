package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/khoward/webserial/internal/book"
)

func mustPipeline(t *testing.T, rules book.RuleSet) *Pipeline {
	t.Helper()
	p, err := New(rules, zap.NewNop())
	require.NoError(t, err)
	return p
}

func TestFilterPrecedesSubstitution(t *testing.T) {
	t.Parallel()

	p := mustPipeline(t, book.RuleSet{
		FilterPattern: "A(B)",
		Replacements:  []book.Replacement{{Find: "B", Replace: "C"}},
	})
	require.Equal(t, "C", p.Process("xAByz"))
}

func TestSubstitutionsAreSequential(t *testing.T) {
	t.Parallel()

	p := mustPipeline(t, book.RuleSet{
		Replacements: []book.Replacement{
			{Find: "a", Replace: "b"},
			{Find: "b", Replace: "c"},
		},
	})
	// Later pairs act on text produced by earlier ones.
	require.Equal(t, "c", p.Process("a"))
}

func TestFilterZeroMatchesPassesThrough(t *testing.T) {
	t.Parallel()

	p := mustPipeline(t, book.RuleSet{FilterPattern: "ZZZ(.)ZZZ"})
	require.Equal(t, "untouched content", p.Process("untouched content"))
}

func TestFilterWholeMatchesWithoutGroups(t *testing.T) {
	t.Parallel()

	p := mustPipeline(t, book.RuleSet{FilterPattern: `<p>[^<]*</p>`})
	got := p.Process(`junk<p>one</p>mid<p>two</p>tail`)
	require.Equal(t, "<p>one</p>\n<p>two</p>", got)
}

func TestFilterSingleGroupExtractsCaptures(t *testing.T) {
	t.Parallel()

	p := mustPipeline(t, book.RuleSet{FilterPattern: `<p>([^<]*)</p>`})
	got := p.Process(`junk<p>one</p>mid<p>two</p>tail`)
	require.Equal(t, "one\ntwo", got)
}

func TestFilterSpansLines(t *testing.T) {
	t.Parallel()

	p := mustPipeline(t, book.RuleSet{FilterPattern: `BEGIN(.*)END`})
	got := p.Process("BEGIN line1\nline2 END")
	require.Equal(t, "line1\nline2", got)
}

func TestSubstitutionCaseInsensitiveByDefault(t *testing.T) {
	t.Parallel()

	p := mustPipeline(t, book.RuleSet{
		Replacements: []book.Replacement{{Find: "advert", Replace: ""}},
	})
	require.Equal(t, " text ", p.Process("ADVERT text Advert"))
}

func TestSubstitutionCaseSensitiveFlag(t *testing.T) {
	t.Parallel()

	p := mustPipeline(t, book.RuleSet{
		CaseSensitive: true,
		Replacements:  []book.Replacement{{Find: "advert", Replace: ""}},
	})
	require.Equal(t, "ADVERT text ", p.Process("ADVERT text advert"))
}

func TestSubstitutionReplacementIsLiteral(t *testing.T) {
	t.Parallel()

	p := mustPipeline(t, book.RuleSet{
		Replacements: []book.Replacement{{Find: "x", Replace: "$1"}},
	})
	require.Equal(t, "$1", p.Process("x"))
}

func TestSubstitutionFindIsLiteralNotRegex(t *testing.T) {
	t.Parallel()

	p := mustPipeline(t, book.RuleSet{
		Replacements: []book.Replacement{{Find: "a.c", Replace: "X"}},
	})
	require.Equal(t, "abc X", p.Process("abc a.c"))
}

func TestNewRejectsInvalidFilter(t *testing.T) {
	t.Parallel()

	_, err := New(book.RuleSet{FilterPattern: "("}, zap.NewNop())
	require.Error(t, err)
}

func TestNewRejectsEmptyFind(t *testing.T) {
	t.Parallel()

	_, err := New(book.RuleSet{Replacements: []book.Replacement{{Find: ""}}}, zap.NewNop())
	require.Error(t, err)
}

func TestNoFilterNoSubsIsIdentity(t *testing.T) {
	t.Parallel()

	p := mustPipeline(t, book.RuleSet{})
	require.Equal(t, "as is", p.Process("as is"))
}
