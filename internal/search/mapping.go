package search

import (
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
)

// wordsAnalyzer splits tag names on word boundaries without stemming or stop words,
// so short tags like "the end" or "sd1.5" survive intact.
const wordsAnalyzer = "tag_words"

// buildIndexMapping creates the mapping for tag documents:
//
//	name    keyword, stored, sortable    whole-name prefix matches
//	words   tag_words analyzer           per-word prefix and fuzzy matches
func buildIndexMapping() (mapping.IndexMapping, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer(wordsAnalyzer, map[string]any{
		"type":          custom.Name,
		"tokenizer":     unicode.Name,
		"token_filters": []any{lowercase.Name},
	})
	if err != nil {
		return nil, err
	}
	indexMapping.DefaultAnalyzer = wordsAnalyzer

	docMapping := bleve.NewDocumentMapping()

	nameFieldMapping := bleve.NewTextFieldMapping()
	nameFieldMapping.Analyzer = keyword.Name
	nameFieldMapping.Store = true
	docMapping.AddFieldMappingsAt("name", nameFieldMapping)

	wordsFieldMapping := bleve.NewTextFieldMapping()
	wordsFieldMapping.Analyzer = wordsAnalyzer
	wordsFieldMapping.Store = false
	docMapping.AddFieldMappingsAt("words", wordsFieldMapping)

	indexMapping.AddDocumentMapping("_default", docMapping)
	return indexMapping, nil
}
