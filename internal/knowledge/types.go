// Package knowledge answers local knowledge-base lookups for the voice
// assistant's search tool.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrEmptyQuery = errors.New("knowledge: empty query")

// Entry is one fact in the knowledge base.
type Entry struct {
	ID       string
	Content  string
	Keywords []string
}

// Store resolves a free-text query to a spoken-friendly answer.
type Store interface {
	Lookup(ctx context.Context, query string) (string, error)
	Close() error
}

// DefaultEntries is the built-in Rafsanjan corpus.
func DefaultEntries() []Entry {
	return []Entry{
		{
			ID:       "city",
			Content:  "رفسنجان یکی از شهرهای مهم استان کرمان و مرکز پسته ایران است.",
			Keywords: []string{"رفسنجان", "کرمان", "شهر", "rafsanjan", "kerman", "city"},
		},
		{
			ID:       "sights",
			Content:  "مکان‌های دیدنی شامل: خانه حاج آقا علی (بزرگترین خانه خشتی جهان)، دره راگه، و بازار قدیم.",
			Keywords: []string{"دیدنی", "خانه", "حاج آقا علی", "راگه", "بازار", "sights", "bazaar", "rageh"},
		},
		{
			ID:       "pistachio",
			Content:  "پسته رفسنجان شهرت جهانی دارد و ارقام اکبری، کله‌قوچی و احمدآقایی معروف‌ترین آنها هستند.",
			Keywords: []string{"پسته", "اکبری", "کله‌قوچی", "احمدآقایی", "pistachio"},
		},
	}
}

// FormatAnswer renders matched entries under a header naming the query.
func FormatAnswer(query string, entries []Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "اطلاعات یافت شده در پایگاه داده داخلی برای \"%s\":", query)
	for _, e := range entries {
		b.WriteString("\n")
		b.WriteString(e.Content)
	}
	return b.String()
}

// rank returns the entries whose keywords occur in the query. When nothing
// matches, the whole corpus is returned so the model still gets context.
func rank(query string, entries []Entry) []Entry {
	q := strings.ToLower(query)
	var hits []Entry
	for _, e := range entries {
		for _, kw := range e.Keywords {
			if kw != "" && strings.Contains(q, strings.ToLower(kw)) {
				hits = append(hits, e)
				break
			}
		}
	}
	if len(hits) == 0 {
		return entries
	}
	return hits
}
