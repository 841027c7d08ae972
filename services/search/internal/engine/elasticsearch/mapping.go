package elasticsearch

// DefaultIndexName is the default index holding item documents.
const DefaultIndexName = "kagumiru_items"

// buildIndexMapping returns the mapping of the items index. Names and
// descriptions are mostly Japanese, so text fields use the built-in cjk
// analyzer; name also gets an edge n-gram subfield for query suggestions.
func buildIndexMapping() string {
	return `{
  "settings": {
    "number_of_shards": 1,
    "number_of_replicas": 0,
    "analysis": {
      "analyzer": {
        "autocomplete_analyzer": {
          "type": "custom",
          "tokenizer": "autocomplete_tokenizer",
          "filter": ["lowercase", "cjk_width"]
        },
        "autocomplete_search": {
          "type": "custom",
          "tokenizer": "keyword",
          "filter": ["lowercase", "cjk_width"]
        }
      },
      "tokenizer": {
        "autocomplete_tokenizer": {
          "type": "edge_ngram",
          "min_gram": 1,
          "max_gram": 20,
          "token_chars": ["letter", "digit"]
        }
      }
    }
  },
  "mappings": {
    "properties": {
      "id":            { "type": "keyword" },
      "name":          { "type": "text", "analyzer": "cjk", "fields": { "keyword": { "type": "keyword", "ignore_above": 256 }, "autocomplete": { "type": "text", "analyzer": "autocomplete_analyzer", "search_analyzer": "autocomplete_search" } } },
      "description":   { "type": "text", "analyzer": "cjk" },
      "status":        { "type": "keyword" },
      "url":           { "type": "keyword", "index": false },
      "affiliateUrl":  { "type": "keyword", "index": false },
      "price":         { "type": "integer" },
      "imageUrls":     { "type": "keyword", "index": false },
      "averageRating": { "type": "float" },
      "reviewCount":   { "type": "integer" },
      "categoryIds":   { "type": "keyword" },
      "platform":      { "type": "keyword" },
      "brandName":     { "type": "keyword" },
      "colors":        { "type": "keyword" },
      "metadata":      { "type": "flattened" },
      "indexedAt":     { "type": "date" }
    }
  }
}`
}
