package tracker

import (
	"encoding/json"
	"fmt"
	"os"
)

// readPageDataURLs extracts the url field from every entry of a persisted
// results file (a JSON array of PageData objects).
func readPageDataURLs(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entries []struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("not a PageData array: %w", err)
	}

	urls := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.URL != "" {
			urls = append(urls, e.URL)
		}
	}
	return urls, nil
}
