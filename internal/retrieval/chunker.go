package retrieval

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mpataki/analyst/internal/models"
)

var (
	headerSplit = regexp.MustCompile(`\n##\s+`)
	tokenRe     = regexp.MustCompile(`[\p{L}\p{N}_]+`)
)

// ChunkDocument splits a corpus file into chunks on "##" headers, falling
// back to blank lines when the file has no headers. Empty sections are
// dropped but still consume an index so chunk IDs stay stable.
func ChunkDocument(source, content string) []models.Document {
	sections := headerSplit.Split(content, -1)
	if len(sections) <= 1 {
		sections = strings.Split(content, "\n\n")
	}

	var chunks []models.Document
	for idx, section := range sections {
		section = strings.TrimSpace(section)
		if section == "" {
			continue
		}
		chunks = append(chunks, models.Document{
			ID:      ChunkID(source, idx),
			Content: section,
		})
	}
	return chunks
}

func ChunkID(source string, idx int) string {
	return fmt.Sprintf("%s::chunk_%d", source, idx)
}

// Tokenize lower-cases text and extracts its word runs.
func Tokenize(text string) []string {
	return tokenRe.FindAllString(strings.ToLower(text), -1)
}
