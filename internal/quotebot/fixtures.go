package quotebot

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/ashureev/ttakmal/internal/domain"
)

//go:embed fixtures.toml
var defaultFixtures string

// Topic steers candidate selection and advice when one of its triggers
// appears in the user's messages.
type Topic struct {
	Name       string   `toml:"name"`
	Triggers   []string `toml:"triggers"`
	Categories []string `toml:"categories"`
	Advice     string   `toml:"advice"`
	Keywords   []string `toml:"keywords"`
}

// Fixtures is the script the engine plays back.
type Fixtures struct {
	Replies         []string       `toml:"replies"`
	FallbackReply   string         `toml:"fallback_reply"`
	Closing         string         `toml:"closing"`
	Stages          []string       `toml:"stages"`
	DefaultAdvice   string         `toml:"default_advice"`
	DefaultKeywords []string       `toml:"default_keywords"`
	Topics          []Topic        `toml:"topics"`
	Quotes          []domain.Quote `toml:"quotes"`
}

// DefaultFixtures returns the embedded script.
func DefaultFixtures() (*Fixtures, error) {
	var fx Fixtures
	md, err := toml.Decode(defaultFixtures, &fx)
	if err != nil {
		return nil, fmt.Errorf("decode embedded fixtures: %w", err)
	}
	return &fx, checkDecoded(&fx, md)
}

// LoadFixtures reads a script from a TOML file.
func LoadFixtures(path string) (*Fixtures, error) {
	var fx Fixtures
	md, err := toml.DecodeFile(path, &fx)
	if err != nil {
		return nil, fmt.Errorf("failed to decode fixtures file: %w", err)
	}
	if err := checkDecoded(&fx, md); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &fx, nil
}

func checkDecoded(fx *Fixtures, md toml.MetaData) error {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("unknown fixture keys: %s", strings.Join(keys, ", "))
	}
	return fx.Validate()
}

// Validate checks that the script can drive a full conversation.
func (fx *Fixtures) Validate() error {
	var errs []error
	if len(fx.Quotes) == 0 {
		errs = append(errs, errors.New("at least one quote is required"))
	}
	if fx.Closing == "" {
		errs = append(errs, errors.New("closing is required"))
	}
	if fx.FallbackReply == "" {
		errs = append(errs, errors.New("fallback_reply is required"))
	}
	seen := make(map[string]bool, len(fx.Quotes))
	for i, q := range fx.Quotes {
		switch {
		case q.ID == "":
			errs = append(errs, fmt.Errorf("quotes[%d]: id is required", i))
		case seen[q.ID]:
			errs = append(errs, fmt.Errorf("quotes[%d]: duplicate id %q", i, q.ID))
		}
		seen[q.ID] = true
		if q.Text == "" || q.Author == "" {
			errs = append(errs, fmt.Errorf("quotes[%d]: text and author are required", i))
		}
	}
	return errors.Join(errs...)
}

// reply returns the canned reply for a 1-based user turn.
func (fx *Fixtures) reply(turn int, lastMessage string) string {
	if turn < 1 || turn > len(fx.Replies) {
		return fx.FallbackReply
	}
	return strings.ReplaceAll(fx.Replies[turn-1], "{message}", lastMessage)
}

// topicFor picks the first topic triggered by any of the user's messages.
func (fx *Fixtures) topicFor(messages []string) *Topic {
	for i := range fx.Topics {
		t := &fx.Topics[i]
		for _, trigger := range t.Triggers {
			for _, m := range messages {
				if strings.Contains(m, trigger) {
					return t
				}
			}
		}
	}
	return nil
}

// candidates returns up to n quotes, those in the topic's categories first,
// each carrying the conversation's advice and keywords.
func (fx *Fixtures) candidates(topic *Topic, n int, advice string, keywords []string) []domain.Quote {
	preferred := map[string]bool{}
	if topic != nil {
		for _, c := range topic.Categories {
			preferred[c] = true
		}
	}

	ordered := make([]domain.Quote, 0, len(fx.Quotes))
	for _, q := range fx.Quotes {
		if preferred[q.Category] {
			ordered = append(ordered, q)
		}
	}
	for _, q := range fx.Quotes {
		if !preferred[q.Category] {
			ordered = append(ordered, q)
		}
	}
	if len(ordered) > n {
		ordered = ordered[:n]
	}

	out := make([]domain.Quote, len(ordered))
	for i, q := range ordered {
		q.Advice = advice
		q.Keywords = append([]string(nil), keywords...)
		out[i] = q
	}
	return out
}
