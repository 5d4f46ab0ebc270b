package enrich

import (
	"context"
	"strings"

	"github.com/joblens/joblens/internal/joblens"
	"github.com/joblens/joblens/internal/pipeline"
)

// ScoreStage returns a stage that scores each posting by how many of the
// given terms appear in its title or description. Matching is done on
// normalized text, so accents and case never hide a hit. A posting with a
// salary hint gets one extra point.
func ScoreStage(terms []string) pipeline.Stage {
	normalized := make([]string, 0, len(terms))
	for _, term := range terms {
		if t := joblens.NormalizeText(term); t != "" {
			normalized = append(normalized, t)
		}
	}
	return func(_ context.Context, records []joblens.Posting) ([]joblens.Posting, error) {
		for i := range records {
			records[i].Score = score(records[i], normalized)
		}
		return records, nil
	}
}

func score(posting joblens.Posting, terms []string) int {
	haystack := joblens.NormalizeText(posting.RawTitle + " " + posting.Description)
	total := 0
	for _, term := range terms {
		if strings.Contains(haystack, term) {
			total++
		}
	}
	if posting.SalaryHint != "" {
		total++
	}
	return total
}

// MapByCompany is the map function for map-reduce scoring reports: it emits
// one (company, score) pair per posting.
func MapByCompany(_ context.Context, record joblens.Posting) ([]pipeline.KV, error) {
	company := joblens.NormalizeText(record.CompanyHint)
	if company == "" {
		company = "unknown"
	}
	return []pipeline.KV{{Key: company, Value: record.Score}}, nil
}

// ReduceScores averages the scores seen for one key.
func ReduceScores(_ context.Context, _ string, values []any) (any, error) {
	if len(values) == 0 {
		return 0.0, nil
	}
	total := 0
	for _, v := range values {
		if n, ok := v.(int); ok {
			total += n
		}
	}
	return float64(total) / float64(len(values)), nil
}
