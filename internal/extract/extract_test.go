package extract

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scraperd/scraperd/internal/scraper"
)

const quotesPage = `<html><body>
<div class="quote"><span class="text">To be or not to be.</span><small class="author">Shakespeare</small></div>
<div class="quote"><span class="text">I think therefore I am.</span><small class="author">Descartes</small></div>
</body></html>`

func TestValidateSelectors(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateSelectors(nil))
	require.NoError(t, ValidateSelectors(map[string]string{
		"container": ".quote",
		"text":      "span.text",
		"author":    "div > small.author",
	}))

	err := ValidateSelectors(map[string]string{"container": "<<<not-a-selector>>>"})
	require.ErrorIs(t, err, scraper.ErrInvalidSelector)
	require.Contains(t, err.Error(), "container")

	err = ValidateSelectors(map[string]string{"text": "]["})
	require.ErrorIs(t, err, scraper.ErrInvalidSelector)
}

func TestRecords_ContainerSelectors(t *testing.T) {
	t.Parallel()

	records, err := Records([]byte(quotesPage), map[string]string{
		"container": ".quote",
		"text":      ".text",
		"author":    ".author",
	})
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.Equal(t, "To be or not to be.", records[0]["text"])
	require.Equal(t, "Shakespeare", records[0]["author"])
	require.Equal(t, "I think therefore I am.", records[1]["text"])
	require.Equal(t, "Descartes", records[1]["author"])
}

func TestRecords_NoContainerSingleRecord(t *testing.T) {
	t.Parallel()

	page := `<html><body><h1 class="title">Hello</h1><span class="price">9.99</span></body></html>`
	records, err := Records([]byte(page), map[string]string{
		"title": ".title",
		"price": ".price",
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "Hello", records[0]["title"])
	require.Equal(t, "9.99", records[0]["price"])
}

func TestRecords_MissingSelectorYieldsEmptyField(t *testing.T) {
	t.Parallel()

	records, err := Records([]byte(quotesPage), map[string]string{
		"container": ".quote",
		"text":      ".text",
		"missing":   ".does-not-exist",
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, r := range records {
		require.NotContains(t, r, "missing")
		require.NotEmpty(t, r["text"])
	}
}

func TestRecords_NoSelectorsGenericFallback(t *testing.T) {
	t.Parallel()

	page := `<html><body>
<article><h2>First headline</h2><p>Some body text for the first article.</p></article>
<article><h2>Second headline</h2><p>More body text for the second one.</p></article>
</body></html>`
	records, err := Records([]byte(page), nil)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "First headline", records[0]["title"])
	require.Equal(t, "Second headline", records[1]["title"])
}

func TestRecords_TitleOnlyFallback(t *testing.T) {
	t.Parallel()

	page := `<html><head><title>Bare Page</title></head><body></body></html>`
	records, err := Records([]byte(page), nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "Bare Page", records[0]["title"])
}
