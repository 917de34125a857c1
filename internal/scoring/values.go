package scoring

import "github.com/alnlive/tokensync/internal/tokens"

// Base point value per value rating. Ratings outside 1..5 score zero.
var baseValue = map[int]int{
	1: 100,
	2: 500,
	3: 1000,
	4: 5000,
	5: 10000,
}

// Score multiplier per memory type. Unrecognized types multiply by 1.
var typeMultiplier = map[tokens.MemoryType]int{
	tokens.MemoryTypePersonal:  1,
	tokens.MemoryTypeBusiness:  3,
	tokens.MemoryTypeTechnical: 5,
}

// ValueOf computes a token's point value: base value for its rating
// times its memory-type multiplier. Pure; same token always yields the
// same value. Tokens with a missing or out-of-range rating score zero.
func ValueOf(tok tokens.Token) int {
	base, ok := baseValue[tok.ValueRating]
	if !ok {
		return 0
	}
	mult, ok := typeMultiplier[tok.MemoryType]
	if !ok {
		mult = 1
	}
	return base * mult
}
