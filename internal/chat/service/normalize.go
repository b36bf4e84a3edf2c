package service

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/boddenberg/receipt-assistant-go/internal/domain"
)

// ============================================================
// Inbound normalization
// ============================================================

// commandPhrases maps interactive selection ids to the phrase the
// interpreter sees. CMD_MENU maps to a menu word so it never reaches it.
var commandPhrases = map[string]string{
	"CMD_RECEIPT": "I want to create a new receipt",
	"CMD_HISTORY": "Show me my receipt history",
	"CMD_STATS":   "Show me my sales stats",
	"CMD_MYBRAND": "Update my brand",
	"CMD_SUPPORT": "I need support",
	"CMD_MENU":    "menu",
}

var commandPhraseSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(commandPhrases))
	for _, phrase := range commandPhrases {
		m[canonicalWord(phrase)] = struct{}{}
	}
	return m
}()

// Normalize reduces an inbound event to plain text. It returns false for
// events that carry nothing to interpret: unsupported types, images
// without a caption and empty bodies.
func Normalize(msg *domain.InboundMessage) (string, bool) {
	var text string
	switch msg.Type {
	case domain.MessageText:
		text = msg.Text
	case domain.MessageInteractive:
		text = msg.InteractiveID
	case domain.MessageImage:
		text = msg.Caption
	default:
		return "", false
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	if phrase, ok := commandPhrases[strings.ToUpper(text)]; ok {
		return phrase, true
	}
	return text, true
}

// ============================================================
// Reserved words
// ============================================================

var (
	menuWords    = wordSet("menu", "help", "ai", "cmd_menu")
	greetWords   = wordSet("hi", "hello", "hey", "hiya", "good morning", "good afternoon", "good evening", "start")
	controlWords = wordSet("cancel", "stop", "reset", "abort", "quit", "exit", "restart", "clear", "nevermind", "never mind", "start over")
	// cancelVerbs also match as the first word: "cancel it", "reset please".
	cancelVerbs = wordSet("cancel", "reset", "abort")
)

func wordSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

func canonicalWord(text string) string {
	return strings.Trim(strings.ToLower(strings.TrimSpace(text)), " .!?")
}

// IsMenuWord reports whether text asks for the main menu.
func IsMenuWord(text string) bool {
	_, ok := menuWords[canonicalWord(text)]
	return ok
}

// IsGreeting reports whether text is a bare greeting.
func IsGreeting(text string) bool {
	_, ok := greetWords[canonicalWord(text)]
	return ok
}

// IsControlWord reports whether text belongs to the cancel/stop/reset family.
func IsControlWord(text string) bool {
	w := canonicalWord(text)
	if _, ok := controlWords[w]; ok {
		return true
	}
	first, _, _ := strings.Cut(w, " ")
	_, ok := cancelVerbs[first]
	return ok
}

// IsCommandPhrase reports whether text is the phrase a menu selection
// was normalized to.
func IsCommandPhrase(text string) bool {
	_, ok := commandPhraseSet[canonicalWord(text)]
	return ok
}

// IsRestoreCommand reports whether text is "restore <code>" or a bare "restore".
func IsRestoreCommand(text string) bool {
	first, _, _ := strings.Cut(canonicalWord(text), " ")
	return first == "restore"
}

// ============================================================
// Numbers
// ============================================================

var currencyPrefixes = []string{"₦", "ngn", "naira", "#", "$", "n"}

// ParseAmount normalizes informal money: "2k" → 2000, "1.5k" → 1500,
// "2,000" → 2000, "₦3000" → 3000. Results are rounded to kobo.
func ParseAmount(s string) (float64, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(",", "", " ", "", "_", "").Replace(s)
	for _, p := range currencyPrefixes {
		if rest, ok := strings.CutPrefix(s, p); ok && rest != "" && (isDigit(rest[0]) || rest[0] == '.') {
			s = rest
			break
		}
	}
	s = strings.TrimSuffix(strings.TrimSuffix(s, "naira"), "ngn")

	mult := 1.0
	switch {
	case strings.HasSuffix(s, "k"):
		mult, s = 1_000, strings.TrimSuffix(s, "k")
	case strings.HasSuffix(s, "m"):
		mult, s = 1_000_000, strings.TrimSuffix(s, "m")
	}
	if s == "" {
		return 0, false
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return math.Round(v*mult*100) / 100, true
}

// maxQuantity bounds parsed quantities before the int conversion.
const maxQuantity = math.MaxInt32

// ParseQuantity accepts "2", "x2", "2x" and "2.0"; empty means 1.
func ParseQuantity(s string) (int, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 1, true
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "x"), "x")
	v, ok := ParseAmount(s)
	if !ok || v != math.Trunc(v) || v < 1 || v > maxQuantity {
		return 0, false
	}
	return int(v), true
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// ============================================================
// Literal item parsing
// ============================================================

var (
	itemSeparator = regexp.MustCompile(`\n|;|,\s+`)
	qtyMarker     = regexp.MustCompile(`^(x\d+|\d+x)$`)
	fillerWords   = wordSet("at", "@", "each", "for", "of", "qty", "price", "naira", "ngn", "₦", "-", "=")
)

// ParseItemsLiteral reads free text as "Name [qty] price" lines, for
// example "Rice 2 3000" or "Rice 3000, Beans x2 1.5k". With two bare
// numbers the smaller integer is the quantity.
func ParseItemsLiteral(text string) ([]domain.LineItem, bool) {
	var items []domain.LineItem
	for _, seg := range itemSeparator.Split(text, -1) {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		item, ok := parseItemSegment(seg)
		if !ok {
			return nil, false
		}
		items = append(items, item)
	}
	return items, len(items) > 0
}

func parseItemSegment(seg string) (domain.LineItem, bool) {
	var (
		name    []string
		numbers []float64
		qty     = 0
	)
	for _, tok := range strings.Fields(seg) {
		lower := strings.ToLower(tok)
		if _, filler := fillerWords[lower]; filler {
			continue
		}
		if qtyMarker.MatchString(lower) {
			q, ok := ParseQuantity(lower)
			if !ok {
				return domain.LineItem{}, false
			}
			qty = q
			continue
		}
		if v, ok := ParseAmount(tok); ok {
			numbers = append(numbers, v)
			continue
		}
		name = append(name, tok)
	}
	if len(name) == 0 {
		return domain.LineItem{}, false
	}

	item := domain.LineItem{Name: strings.Join(name, " "), Quantity: 1}
	switch {
	case len(numbers) == 1:
		item.Price = numbers[0]
	case len(numbers) == 2 && qty == 0:
		a, b := numbers[0], numbers[1]
		if b < a {
			a, b = b, a
		}
		if a != math.Trunc(a) || a < 1 || a > maxQuantity {
			return domain.LineItem{}, false
		}
		item.Quantity, item.Price = int(a), b
	default:
		return domain.LineItem{}, false
	}
	if qty > 0 {
		item.Quantity = qty
	}
	return item, item.Validate() == nil
}
