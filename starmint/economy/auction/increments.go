package auction

import "github.com/starmint/starmint/starmint/database/models"

type incrementBracket struct {
	below     int64
	increment int64
}

// Brackets are chosen by the current bid, never by the incoming one.
var incrementBrackets = []incrementBracket{
	{below: 10000, increment: 500},
	{below: 50000, increment: 1000},
	{below: 100000, increment: 2500},
	{below: 500000, increment: 5000},
}

const topIncrement int64 = 10000

// IncrementFor returns the minimum raise in cents over currentCents.
func IncrementFor(currentCents int64) int64 {
	for _, b := range incrementBrackets {
		if currentCents < b.below {
			return b.increment
		}
	}
	return topIncrement
}

// MinimumNextBid is the lowest acceptable amount for the next bid. Before the
// first bid that is the starting bid itself.
func MinimumNextBid(a *models.Auction) int64 {
	if !a.HasBids() {
		return a.StartingBidCents
	}
	return a.CurrentBidCents + IncrementFor(a.CurrentBidCents)
}
