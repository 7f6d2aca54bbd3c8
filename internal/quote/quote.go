package quote

import (
	"context"
	"time"
)

// Shipment is the typed view of a finished questionnaire.
type Shipment struct {
	Kind          string
	Size          int
	Weight        string
	Origin        string
	Destination   string
	Expedited     bool
	DispatchToday bool
	Addon         string
}

// Turn is one question asked and the answer the user gave to it.
type Turn struct {
	Question string
	Answer   string
}

// Request carries everything a strategy may use to build a recommendation.
type Request struct {
	UserID     string
	Shipment   Shipment
	Transcript []Turn
	Latest     string
	Now        time.Time
}

// CardOption is one column of a recommendation card.
type CardOption struct {
	Name  string `json:"name"`
	Price string `json:"price"`
	Date  string `json:"date"`
}

// Card is the structured recommendation transports render.
type Card struct {
	Title    string     `json:"title"`
	Cheapest CardOption `json:"cheapest"`
	Fastest  CardOption `json:"fastest"`
	Advice   string     `json:"advice"`
}

// Outcome is what the user receives at the end of the questionnaire. A nil
// Card means the transport sends Text only.
type Outcome struct {
	Text string
	Card *Card
}

// Strategy produces a recommendation from a completed request.
type Strategy interface {
	Name() string
	Quote(ctx context.Context, req Request) (*Outcome, error)
}
