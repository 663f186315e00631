package keyword

import "github.com/haramshield/haramshield-go/internal/detection"

// Built-in keyword lists. Entries are lower-cased when the snapshot is built.
var (
	gamblingKeywords = []string{
		"Casino", "Bet", "Jackpot", "Slot", "Poker", "Lottery", "Wager", "Roulette",
		"Blackjack", "Sportsbook", "DraftKings", "FanDuel", "Baccarat",
	}

	intoxicantKeywords = []string{
		"Marlboro", "Vape", "Tobacco", "Cigarette", "Juul", "Smoking", "Nicotine", "Cigar",
		"Alcohol", "Wine", "Liquor", "Beer", "Dispensary", "Weed", "Hookah",
		"Cannabis", "Marijuana", "Vodka", "Whiskey", "Tequila",
	}

	explicitKeywords = []string{
		"Porn", "Nude", "Xxx", "Sexy", "Erotica", "OnlyFans", "Camgirl", "Hentai",
		"Sex", "Milf", "Teen", "Adult", "Escort", "Strip", "Naked",
	}

	blasphemyKeywords = []string{
		"Blasphemy", "Atheism", "Anti-Islam", "Shirk", "Infidel", "Apostate",
		"Quran Burning", "Draw Muhammad",
	}
)

// Builtin returns the built-in keyword to category mapping.
func Builtin() map[string]detection.Category {
	m := make(map[string]detection.Category)
	add := func(words []string, c detection.Category) {
		for _, w := range words {
			if k := normalize(w); k != "" {
				m[k] = c
			}
		}
	}
	add(gamblingKeywords, detection.CategoryGambling)
	add(intoxicantKeywords, detection.CategoryIntoxicant)
	add(explicitKeywords, detection.CategoryExplicit)
	add(blasphemyKeywords, detection.CategoryBlasphemy)
	return m
}
