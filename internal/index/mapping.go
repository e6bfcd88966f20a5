package index

import (
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/sha1n/codegrok/internal/domain"
)

// NewMapping creates the fixed Bleve index mapping for source documents.
func NewMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	// Content field - analyzed for full-text search, term vectors for highlighting
	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = standard.Name
	contentField.Store = true
	contentField.IncludeTermVectors = true
	docMapping.AddFieldMappingsAt(domain.FieldContent, contentField)

	// Path - keyword, stored; also the document ID
	pathField := bleve.NewTextFieldMapping()
	pathField.Analyzer = keyword.Name
	pathField.Store = true
	pathField.IncludeInAll = false
	docMapping.AddFieldMappingsAt(domain.FieldPath, pathField)

	// Language - keyword for exact filtering, stored
	langField := bleve.NewTextFieldMapping()
	langField.Analyzer = keyword.Name
	langField.Store = true
	langField.IncludeInAll = false
	docMapping.AddFieldMappingsAt(domain.FieldLanguage, langField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = standard.Name
	indexMapping.DefaultField = domain.FieldContent

	return indexMapping
}
