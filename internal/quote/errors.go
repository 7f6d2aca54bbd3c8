package quote

import "fmt"

// OutOfRangeError reports a parcel larger than the biggest size bucket.
type OutOfRangeError struct {
	Size int
	Max  int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("quote: size %dcm exceeds the %dcm limit", e.Size, e.Max)
}

// UserMessage is the apology sent when the parcel cannot be handled.
func (e *OutOfRangeError) UserMessage() string {
	return fmt.Sprintf("Sorry, parcels over %dcm (sum of three sides) cannot be sent with these services. Please send any message to start over.", e.Max)
}
