package sources

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/reviewpix/reviewpix/internal/models"
)

// csvColumns are the recognised import headers; anything else is
// ignored.
var csvColumns = map[string]bool{
	"reviewer_name": true, "rating": true, "review_text": true,
	"review_date": true, "source": true, "tech_name": true, "tech_photo_url": true,
}

// ParseCSV maps a CSV import (header row required) onto review records.
// Rows missing a source default to "import".
func ParseCSV(data []byte) ([]models.Review, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("CSV header row is required: %w", err)
	}

	index := make(map[string]int)
	for i, col := range header {
		col = strings.ToLower(strings.TrimSpace(col))
		if csvColumns[col] {
			index[col] = i
		}
	}
	if len(index) == 0 {
		return nil, fmt.Errorf("CSV header has no recognised columns")
	}

	field := func(row []string, col string) string {
		i, ok := index[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var reviews []models.Review
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("malformed CSV row: %w", err)
		}

		source := field(row, "source")
		if source == "" {
			source = "import"
		}

		rating, _ := strconv.Atoi(field(row, "rating"))

		review := models.Review{
			Source:       source,
			ReviewerName: field(row, "reviewer_name"),
			Rating:       rating,
			ReviewText:   field(row, "review_text"),
			TechName:     field(row, "tech_name"),
			TechPhotoURL: field(row, "tech_photo_url"),
		}
		if dateStr := field(row, "review_date"); dateStr != "" {
			if t, ok := parseTime(dateStr); ok {
				review.ReviewDate = t
			}
		}

		reviews = append(reviews, normalize(review, ""))
	}

	if len(reviews) == 0 {
		return nil, fmt.Errorf("CSV contains no data rows")
	}
	return reviews, nil
}
