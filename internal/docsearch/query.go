package docsearch

// Stored fields returned for each document and each matching page.
var (
	documentFields = []string{"title", "filename", "main_text", "total_pages", "extracted_date"}
	pageFields     = []string{
		"page_descriptions.page_number",
		"page_descriptions.description_text",
		"page_descriptions.image_path",
		"page_descriptions.image_url",
		"page_descriptions.image_dimensions",
	}
)

// buildQuery returns the hybrid search body: semantic match on the
// document text, a boosted keyword match on the title, and a nested
// kNN match on page image descriptions whose embedding is computed by
// the inference endpoint. Any one clause is enough for a hit.
func buildQuery(question string, opts Options, inferenceID string) map[string]any {
	return map[string]any{
		"size":      opts.TopK,
		"min_score": opts.MinScore,
		"_source":   documentFields,
		"query": map[string]any{
			"bool": map[string]any{
				"minimum_should_match": 1,
				"should": []any{
					map[string]any{
						"semantic": map[string]any{
							"field": "main_text",
							"query": question,
						},
					},
					map[string]any{
						"match": map[string]any{
							"title": map[string]any{
								"query": question,
								"boost": 2.0,
							},
						},
					},
					map[string]any{
						"nested": map[string]any{
							"path":       "page_descriptions",
							"score_mode": "max",
							"query": map[string]any{
								"knn": map[string]any{
									"field": "page_descriptions.description_vector",
									"query_vector_builder": map[string]any{
										"text_embedding": map[string]any{
											"model_id":   inferenceID,
											"model_text": question,
										},
									},
									"num_candidates": 50,
								},
							},
							"inner_hits": map[string]any{
								"size":    3,
								"_source": pageFields,
							},
						},
					},
				},
			},
		},
	}
}
