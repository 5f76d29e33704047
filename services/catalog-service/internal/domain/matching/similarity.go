// Package matching подбирает внутреннюю категорию для категории поставщика по похожести названий.
package matching

import (
	"math"
	"strings"

	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/normalize"
)

const (
	// MinConfidence нижняя граница уверенности, ниже которой совпадение не предлагается
	MinConfidence = 60

	exactScore    = 100
	containsScore = 85
)

// Match найденная категория и ее оценка
type Match struct {
	CategoryID string `json:"category_id"`
	Name       string `json:"name"`
	Score      int    `json:"score"`
}

// LevenshteinDistance классическое редакционное расстояние по рунам
func LevenshteinDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[len(rb)]
}

// CalculateSimilarity оценка от 0 до 100 после нормализации регистра и пробелов
func CalculateSimilarity(a, b string) int {
	fa, fb := normalize.FoldName(a), normalize.FoldName(b)
	if fa == "" || fb == "" {
		return 0
	}
	if fa == fb {
		return exactScore
	}
	if strings.Contains(fa, fb) || strings.Contains(fb, fa) {
		return containsScore
	}

	maxLen := max(len([]rune(fa)), len([]rune(fb)))
	dist := LevenshteinDistance(fa, fb)
	return int(math.Round(100 * float64(maxLen-dist) / float64(maxLen)))
}

// FindBestMatch сравнивает каждое название кандидата с каждым названием из пула.
// Возвращает false, если лучшая оценка ниже MinConfidence.
func FindBestMatch(candidateNames []string, pool []models.CategoryWithNames) (*Match, bool) {
	return NewMatcher(MinConfidence).FindBestMatch(candidateNames, pool)
}

// Matcher подбор с настраиваемым порогом (не ниже MinConfidence)
type Matcher struct {
	threshold int
}

func NewMatcher(threshold int) *Matcher {
	if threshold < MinConfidence {
		threshold = MinConfidence
	}
	if threshold > exactScore {
		threshold = exactScore
	}
	return &Matcher{threshold: threshold}
}

func (m *Matcher) Threshold() int {
	return m.threshold
}

// FindBestMatch при равенстве оценок остается первая запись пула
func (m *Matcher) FindBestMatch(candidateNames []string, pool []models.CategoryWithNames) (*Match, bool) {
	var best *Match

	for _, entry := range pool {
		for _, poolName := range entry.Names {
			if strings.TrimSpace(poolName) == "" {
				continue
			}
			for _, name := range candidateNames {
				if strings.TrimSpace(name) == "" {
					continue
				}
				score := CalculateSimilarity(name, poolName)
				if best == nil || score > best.Score {
					best = &Match{CategoryID: entry.ID, Name: poolName, Score: score}
				}
			}
		}
	}

	if best == nil || best.Score < m.threshold {
		return nil, false
	}
	return best, true
}

// Rank возвращает все записи пула с оценкой не ниже порога, по убыванию оценки
func (m *Matcher) Rank(candidateNames []string, pool []models.CategoryWithNames, limit int) []Match {
	var out []Match
	for _, entry := range pool {
		if match, ok := m.FindBestMatch(candidateNames, []models.CategoryWithNames{entry}); ok {
			out = append(out, *match)
		}
	}

	// устойчивая сортировка вставками, пулы небольшие
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Score > out[j-1].Score; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
