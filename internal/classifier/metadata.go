package classifier

import (
	"encoding/json"
	"fmt"
	"os"
)

// DefaultImageSize is the input size of exported image models.
const DefaultImageSize = 224

// Metadata describes an exported image model and its ordered labels.
type Metadata struct {
	ModelName   string   `json:"modelName"`
	Labels      []string `json:"labels"`
	ImageSize   int      `json:"imageSize"`
	TimeStamp   string   `json:"timeStamp,omitempty"`
	PackageName string   `json:"packageName,omitempty"`
}

// LoadMetadata reads and validates a metadata.json file.
func LoadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}

	if len(md.Labels) == 0 {
		return nil, fmt.Errorf("metadata %s has no labels", path)
	}

	seen := make(map[string]bool, len(md.Labels))
	for _, l := range md.Labels {
		if seen[l] {
			return nil, fmt.Errorf("metadata %s has duplicate label %q", path, l)
		}
		seen[l] = true
	}

	if md.ImageSize <= 0 {
		md.ImageSize = DefaultImageSize
	}

	return &md, nil
}
