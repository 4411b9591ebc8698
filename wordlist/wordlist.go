// Package wordlist provides a short English word list for generating
// memorable passphrases.
package wordlist

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// RandomWords returns n words drawn uniformly at random (with replacement)
// from the English word list, suitable for offering a user a memorable
// session password. n must be positive.
func RandomWords(n int) ([]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("wordlist: n must be positive, got %d", n)
	}
	words := make([]string, n)
	max := big.NewInt(int64(len(enWords)))
	for i := range words {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return nil, fmt.Errorf("wordlist: reading random word: %w", err)
		}
		words[i] = enWords[idx.Int64()]
	}
	return words, nil
}

// enWords is based on the EFF short wordlist, filtered by unique soundex.
// https://www.eff.org/deeplinks/2016/07/new-wordlists-random-passphrases
// Credit to Nick Moore https://nick.zoic.org/art/shorter-words-list/
var enWords = []string{
	"acorn", "acre",
	"acts", "afar",
	"affix", "aged",
	"agent", "agile",
	"aging", "agony",
	"aide", "aids",
	"aim", "alarm",
	"alike", "alive",
	"aloe", "aloft",
	"alone", "amend",
	"ample", "amuse",
	"angel", "anger",
	"apple", "april",
	"apron", "area",
	"argue", "armed",
	"armor", "army",
	"arson", "art",
	"atlas", "atom",
	"avert", "avoid",
	"axis", "bacon",
	"baker", "balmy",
	"barn", "basil",
	"baton", "bats",
	"blank", "blast",
	"blend", "blimp",
	"blob", "blog",
	"blurt", "boil",
	"bok", "bolt",
	"bony", "bribe",
	"bring", "broad",
	"broil", "broke",
	"bud", "bunch",
	"bunt", "bust",
	"calm", "canal",
	"candy", "card",
	"case", "cedar",
	"chump", "civic",
	"civil", "clamp",
	"clasp", "class",
	"clay", "clear",
	"cleft", "clerk",
	"cling", "clip",
	"cold", "come",
	"comic", "cork",
	"cost", "cover",
	"craft", "cramp",
	"crank", "crisp",
	"crop", "crown",
	"crust", "cub",
	"cupid", "cure",
	"curl", "cut",
	"cycle", "dab",
	"dad", "dart",
	"deal", "debt",
	"debug", "decaf",
	"decal", "decor",
	"dent", "dig",
	"dimly", "ditch",
	"doing", "donor",
	"down", "drab",
	"drank", "dress",
	"drift", "drill",
	"drum", "dry",
	"dust", "early",
	"earth", "east",
	"eaten", "ebony",
	"echo", "edge",
	"eel", "elder",
	"elf", "elk",
	"elm", "elude",
	"elves", "email",
	"emit", "empty",
	"emu", "enter",
	"envoy", "equal",
	"erase", "error",
	"erupt", "evade",
	"even", "evict",
	"evil", "evoke",
	"fable", "fact",
	"fall", "fang",
	"femur", "fend",
	"fetal", "fetch",
	"fever", "fifth",
	"film", "final",
	"fit", "five",
	"flag", "fled",
	"fling", "flint",
	"flip", "flirt",
	"flyer", "foam",
	"fox", "frail",
	"fray", "fresh",
	"from", "front",
	"frost", "fruit",
	"gap", "gas",
	"gem", "genre",
	"gift", "given",
	"giver", "glad",
	"glass", "goal",
	"golf", "gong",
	"grab", "grant",
	"grasp", "grass",
	"green", "grew",
	"grid", "grill",
	"gut", "habit",
	"halt", "harm",
	"hasty", "hatch",
	"haven", "hazel",
	"help", "herbs",
	"hers", "hub",
	"hug", "hull",
	"human", "hump",
	"hung", "hunt",
	"hurry", "hurt",
	"hut", "ice",
	"icing", "icon",
	"igloo", "image",
	"ion", "iron",
	"item", "ivory",
	"ivy", "jam",
	"jet", "job",
	"jog", "jolt",
	"judge", "july",
	"jump", "junky",
	"jury", "keep",
	"keg", "kept",
	"kilt", "king",
	"kite", "knee",
	"knelt", "koala",
	"ladle", "lake",
	"land", "last",
	"latch", "left",
	"legal", "lens",
	"level", "lid",
	"lilac", "lily",
	"limb", "line",
	"lip", "liver",
	"lunar", "lure",
	"lurk", "maker",
	"mango", "manor",
	"map", "march",
	"mardi", "marry",
	"match", "malt",
	"mom", "most",
	"motor", "mount",
	"mud", "mug",
	"mulch", "mule",
	"mumbo", "mural",
	"nag", "nail",
	"name", "nap",
	"near", "nerd",
	"net", "next",
	"ninth", "oak",
	"oat", "ocean",
	"oil", "old",
	"olive", "omen",
	"only", "open",
	"opera", "opt",
	"ounce", "outer",
	"oval", "pagan",
	"palm", "pants",
	"paper", "park",
	"party", "patch",
	"pep", "perm",
	"pest", "petal",
	"petri", "plank",
	"plant", "plot",
	"plus", "pod",
	"poem", "poker",
	"polar", "pond",
	"prank", "print",
	"prism", "proof",
	"props", "pry",
	"pug", "pull",
	"pulp", "punk",
	"pupil", "quake",
	"query", "quill",
	"quit", "rabid",
	"radar", "raft",
	"ramp", "rank",
	"rant", "recap",
	"relax", "reply",
	"rerun", "rigor",
	"ritzy", "river",
	"robin", "rope",
	"rug", "ruin",
	"rule", "rust",
	"rut", "salt",
	"same", "scale",
	"scan", "scold",
	"score", "scorn",
	"scrap", "sect",
	"self", "send",
	"set", "seven",
	"share", "shirt",
	"shrug", "silk",
	"silo", "sip",
	"siren", "skip",
	"skirt", "sky",
	"slam", "slang",
	"slept", "slurp",
	"small", "smirk",
	"smog", "snap",
	"snare", "snarl",
	"snort", "speak",
	"spent", "spill",
	"sport", "spot",
	"spur", "stamp",
	"stand", "stark",
	"start", "stem",
	"sting", "stir",
	"stole", "stop",
	"storm", "suds",
	"surf", "swirl",
	"tag", "tall",
	"talon", "tamer",
	"tank", "taper",
	"taps", "tart",
	"taste", "theft",
	"thumb", "tidal",
	"tidy", "tiger",
	"tilt", "tint",
	"tiny", "train",
	"trap", "trek",
	"trend", "trial",
	"trunk", "try",
	"tulip", "tutor",
	"uncle", "uncut",
	"unify", "union",
	"unit", "upon",
	"upper", "urban",
	"used", "user",
	"utter", "value",
	"vapor", "vegan",
	"venue", "vest",
	"vice", "viral",
	"virus", "visor",
	"vocal", "void",
	"volt", "voter",
	"wad", "wafer",
	"wager", "wagon",
	"walk", "wasp",
	"watch", "water",
	"widen", "wife",
	"wilt", "wind",
	"wing", "wiry",
	"wok", "wolf",
	"womb", "wool",
	"word", "work",
	"woven", "wrist",
	"xerox", "yam",
	"yard", "year",
	"yeast", "yelp",
	"yield", "yodel",
	"yoga", "zebra",
	"zero", "zesty",
	"zippy", "zone",
}
