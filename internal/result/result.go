// Package result builds and parses the query string that hands a confirmed
// quote over to the result page.
package result

import (
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ashureev/ttakmal/internal/domain"
)

// Path is the result page route.
const Path = "/result"

const (
	ParamDate      = "date"
	ParamDayOfWeek = "dayOfWeek"
	ParamQuote     = "quote"
	ParamAuthor    = "author"
	ParamKeywords  = "keywords"
	ParamContext   = "context"

	dateLayout = "20060102"
)

var upper = cases.Upper(language.English)

// Handoff is what the result page recovers from the query string.
type Handoff struct {
	Date      string
	DayOfWeek string
	Quote     string
	Author    string
	Keywords  []string
	Context   string
}

// BuildQuery encodes q for the result page as of now. Date and weekday are
// both taken from the UTC calendar day.
func BuildQuery(q domain.Quote, now time.Time) url.Values {
	now = now.UTC()
	v := url.Values{}
	v.Set(ParamDate, now.Format(dateLayout))
	v.Set(ParamDayOfWeek, upper.String(now.Weekday().String()))
	v.Set(ParamQuote, q.Text)
	v.Set(ParamAuthor, q.Author)
	v.Set(ParamKeywords, strings.Join(q.Keywords, ","))
	v.Set(ParamContext, q.Advice)
	return v
}

// BuildURL returns base + /result?... . base may be empty for a relative link.
func BuildURL(base string, q domain.Quote, now time.Time) string {
	return strings.TrimRight(base, "/") + Path + "?" + BuildQuery(q, now).Encode()
}

// Parse recovers the handoff from a result page query.
func Parse(v url.Values) Handoff {
	h := Handoff{
		Date:      v.Get(ParamDate),
		DayOfWeek: v.Get(ParamDayOfWeek),
		Quote:     v.Get(ParamQuote),
		Author:    v.Get(ParamAuthor),
		Context:   v.Get(ParamContext),
		Keywords:  []string{},
	}
	for _, k := range strings.Split(v.Get(ParamKeywords), ",") {
		if k = strings.TrimSpace(k); k != "" {
			h.Keywords = append(h.Keywords, k)
		}
	}
	return h
}

// ParseURL parses a full or relative result URL.
func ParseURL(raw string) (Handoff, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Handoff{}, err
	}
	return Parse(u.Query()), nil
}
