package docsearch

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Result is one matching document.
type Result struct {
	Title         string  `json:"title"`
	Filename      string  `json:"filename"`
	Excerpt       string  `json:"excerpt,omitempty"`
	Truncated     bool    `json:"truncated,omitempty"`
	TotalPages    int     `json:"total_pages,omitempty"`
	ExtractedDate string  `json:"extracted_date,omitempty"`
	Score         float64 `json:"score"`
	Images        []Image `json:"images,omitempty"`
}

// Image is a page image whose description matched the question.
type Image struct {
	Page        int     `json:"page"`
	Description string  `json:"description"`
	Path        string  `json:"path,omitempty"`
	URL         string  `json:"url,omitempty"`
	Width       int     `json:"width,omitempty"`
	Height      int     `json:"height,omitempty"`
	Score       float64 `json:"score"`
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Score  float64 `json:"_score"`
			Source struct {
				Title         string `json:"title"`
				Filename      string `json:"filename"`
				MainText      string `json:"main_text"`
				TotalPages    int    `json:"total_pages"`
				ExtractedDate string `json:"extracted_date"`
			} `json:"_source"`
			InnerHits map[string]struct {
				Hits struct {
					Hits []struct {
						Score  float64 `json:"_score"`
						Source struct {
							PageNumber      int    `json:"page_number"`
							DescriptionText string `json:"description_text"`
							ImagePath       string `json:"image_path"`
							ImageURL        string `json:"image_url"`
							ImageDimensions *struct {
								Width  int `json:"width"`
								Height int `json:"height"`
							} `json:"image_dimensions"`
						} `json:"_source"`
					} `json:"hits"`
				} `json:"hits"`
			} `json:"inner_hits"`
		} `json:"hits"`
	} `json:"hits"`
}

func parseResponse(r io.Reader) ([]Result, error) {
	var resp searchResponse
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		res := Result{
			Title:         hit.Source.Title,
			Filename:      hit.Source.Filename,
			TotalPages:    hit.Source.TotalPages,
			ExtractedDate: hit.Source.ExtractedDate,
			Score:         hit.Score,
		}
		if hit.Source.MainText != "" {
			res.Excerpt, res.Truncated = excerpt(cleanText(hit.Source.MainText), excerptLimit)
		}

		for _, inner := range hit.InnerHits["page_descriptions"].Hits.Hits {
			img := Image{
				Page:        inner.Source.PageNumber,
				Description: inner.Source.DescriptionText,
				Path:        inner.Source.ImagePath,
				URL:         inner.Source.ImageURL,
				Score:       inner.Score,
			}
			if d := inner.Source.ImageDimensions; d != nil {
				img.Width, img.Height = d.Width, d.Height
			}
			res.Images = append(res.Images, img)
		}
		results = append(results, res)
	}
	return results, nil
}

// Format renders results as markdown for a language model. Image
// references are labelled "Image Path" or "Image URL" so the model can
// pass them to an image analysis tool.
func Format(results []Result) string {
	if len(results) == 0 {
		return "No results found for your question."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d relevant documents:\n\n", len(results))

	for i, r := range results {
		fmt.Fprintf(&b, "## Result %d: %s\n", i+1, r.Title)
		fmt.Fprintf(&b, "**Filename:** %s\n", r.Filename)
		fmt.Fprintf(&b, "**Relevance Score:** %.2f\n", r.Score)
		if r.TotalPages > 0 {
			fmt.Fprintf(&b, "**Total Pages:** %d\n", r.TotalPages)
		}
		if r.ExtractedDate != "" {
			fmt.Fprintf(&b, "**Date:** %s\n", r.ExtractedDate)
		}
		if r.Excerpt != "" {
			b.WriteString("\n**Text Excerpt:**\n")
			b.WriteString(r.Excerpt)
			if r.Truncated {
				b.WriteString("...")
			}
			b.WriteString("\n")
		}

		if len(r.Images) > 0 {
			fmt.Fprintf(&b, "\n**Relevant Images (%d):**\n", len(r.Images))
			for j, img := range r.Images {
				fmt.Fprintf(&b, "  %d. Page %d: %s\n", j+1, img.Page, img.Description)
				if img.Path != "" {
					fmt.Fprintf(&b, "     Image Path: %s\n", img.Path)
				}
				if img.URL != "" {
					fmt.Fprintf(&b, "     Image URL: %s\n", img.URL)
				}
				if img.Width > 0 && img.Height > 0 {
					fmt.Fprintf(&b, "     Size: %dx%dpx\n", img.Width, img.Height)
				}
				fmt.Fprintf(&b, "     Relevance: %.2f\n", img.Score)
			}
		}

		b.WriteString("\n" + strings.Repeat("-", 80) + "\n\n")
	}
	return b.String()
}
