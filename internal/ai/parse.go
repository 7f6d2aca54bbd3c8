package ai

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/lojasmm/shipbot/internal/quote"
)

var (
	ErrNoBlock        = errors.New("ai: no recommendation block in response")
	ErrMalformedBlock = errors.New("ai: malformed recommendation block")
)

var blockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

var pricePrinter = message.NewPrinter(language.English)

// Price accepts either a JSON string or a number of yen.
type Price string

func (p *Price) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = Price(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		*p = Price(pricePrinter.Sprintf("¥%d", i))
		return nil
	}
	*p = Price(n.String())
	return nil
}

// RecommendedOption is one column of a model recommendation.
type RecommendedOption struct {
	Name  string `json:"name"`
	Price Price  `json:"price"`
	Date  string `json:"date"`
}

// Recommendation is the structured part of a model answer.
type Recommendation struct {
	Cheapest RecommendedOption
	Fastest  RecommendedOption
	Advice   string
}

// Card converts r to a transport card.
func (r *Recommendation) Card(title string) *quote.Card {
	return &quote.Card{
		Title:    title,
		Cheapest: quote.CardOption{Name: r.Cheapest.Name, Price: string(r.Cheapest.Price), Date: r.Cheapest.Date},
		Fastest:  quote.CardOption{Name: r.Fastest.Name, Price: string(r.Fastest.Price), Date: r.Fastest.Date},
		Advice:   r.Advice,
	}
}

// ParseRecommendation extracts the fenced JSON block from text. It returns
// the recommendation and the surrounding prose with the block removed.
func ParseRecommendation(text string) (*Recommendation, string, error) {
	loc := blockPattern.FindStringSubmatchIndex(text)
	if loc == nil {
		return nil, "", ErrNoBlock
	}

	var raw struct {
		Cheapest *RecommendedOption `json:"cheapest"`
		Fastest  *RecommendedOption `json:"fastest"`
		Advice   *string            `json:"advice"`
	}
	if err := json.Unmarshal([]byte(text[loc[2]:loc[3]]), &raw); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformedBlock, err)
	}
	switch {
	case raw.Cheapest == nil || raw.Cheapest.Name == "":
		return nil, "", fmt.Errorf("%w: missing cheapest", ErrMalformedBlock)
	case raw.Fastest == nil || raw.Fastest.Name == "":
		return nil, "", fmt.Errorf("%w: missing fastest", ErrMalformedBlock)
	case raw.Advice == nil:
		return nil, "", fmt.Errorf("%w: missing advice", ErrMalformedBlock)
	}

	var parts []string
	for _, part := range []string{text[:loc[0]], text[loc[1]:]} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	prose := strings.Join(parts, "\n\n")
	return &Recommendation{
		Cheapest: *raw.Cheapest,
		Fastest:  *raw.Fastest,
		Advice:   *raw.Advice,
	}, prose, nil
}
